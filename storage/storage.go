// Package storage uploads images to the first provider that accepts them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// File is an upload held in memory so that each provider can read it from the start.
type File struct {
	Data        []byte
	Filename    string
	ContentType string
}

func (f File) Reader() *bytes.Reader {
	return bytes.NewReader(f.Data)
}

// Ext returns the extension for the file, preferring the sniffed content type.
func (f File) Ext() string {
	switch f.ContentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return strings.ToLower(filepath.Ext(f.Filename))
}

type Result struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

type Uploader interface {
	Name() string
	Upload(ctx context.Context, f File) (Result, error)
}

var ErrNoProviders = errors.New("no upload providers configured")

// Chain tries each uploader in order and returns the first success.
type Chain struct {
	uploaders []Uploader
	log       *zap.Logger
}

func NewChain(log *zap.Logger, uploaders ...Uploader) *Chain {
	return &Chain{uploaders: uploaders, log: log}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.uploaders))
	for i, u := range c.uploaders {
		names[i] = u.Name()
	}
	return strings.Join(names, ">")
}

func (c *Chain) Upload(ctx context.Context, f File) (Result, error) {
	if len(c.uploaders) == 0 {
		return Result{}, ErrNoProviders
	}

	var errs []error
	for _, u := range c.uploaders {
		res, err := u.Upload(ctx, f)
		if err == nil {
			return res, nil
		}
		c.log.Warn("upload provider failed, trying next",
			zap.String("provider", u.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", u.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, errors.Join(errs...)
}
