package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalUploader writes files under Dir; the router serves Dir at /uploads.
type LocalUploader struct {
	Dir     string
	BaseURL string
}

func NewLocalUploader(dir, publicURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalUploader{Dir: dir, BaseURL: strings.TrimRight(publicURL, "/") + "/uploads"}, nil
}

func (u *LocalUploader) Name() string { return "local" }

func (u *LocalUploader) Upload(ctx context.Context, f File) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	name := uuid.NewString() + f.Ext()
	if err := os.WriteFile(filepath.Join(u.Dir, name), f.Data, 0o644); err != nil {
		return Result{}, err
	}
	return Result{URL: u.BaseURL + "/" + name, Provider: u.Name()}, nil
}
