package storage

import (
	"context"
	"errors"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

type CloudinaryUploader struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryUploader(cloudinaryURL, folder string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, err
	}
	return &CloudinaryUploader{cld: cld, folder: folder}, nil
}

func (u *CloudinaryUploader) Name() string { return "cloudinary" }

func (u *CloudinaryUploader) Upload(ctx context.Context, f File) (Result, error) {
	params := uploader.UploadParams{
		Folder:         u.folder,
		PublicID:       uuid.NewString(),
		Transformation: "c_limit,w_1600,q_auto",
	}

	res, err := u.cld.Upload.Upload(ctx, f.Reader(), params)
	if err != nil {
		return Result{}, err
	}
	if res.Error.Message != "" {
		return Result{}, errors.New(res.Error.Message)
	}
	return Result{URL: res.SecureURL, Provider: u.Name()}, nil
}
