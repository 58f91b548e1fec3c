package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"blogsy/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxImageSize = 5 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var (
	errImageTooLarge = errors.New("Image must be 5MB or smaller")
	errImageType     = errors.New("Only JPEG, PNG, GIF and WebP images are allowed")
)

// readImage buffers an uploaded image and checks its size and sniffed type.
func readImage(header *multipart.FileHeader) (storage.File, error) {
	if header.Size > maxImageSize {
		return storage.File{}, errImageTooLarge
	}
	f, err := header.Open()
	if err != nil {
		return storage.File{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
	if err != nil {
		return storage.File{}, err
	}
	if len(data) > maxImageSize {
		return storage.File{}, errImageTooLarge
	}

	contentType := http.DetectContentType(data)
	if !allowedImageTypes[contentType] {
		return storage.File{}, errImageType
	}
	return storage.File{Data: data, Filename: header.Filename, ContentType: contentType}, nil
}

func UploadImage(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	if uploader == nil {
		respondError(c, http.StatusServiceUnavailable, "Uploads not configured")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImageSize+1<<20)
	header, err := c.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, "No image file provided")
		return
	}

	file, err := readImage(header)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, errImageTooLarge) && !errors.Is(err, errImageType) {
			status = http.StatusInternalServerError
		}
		respondError(c, status, err.Error())
		return
	}

	res, err := uploader.Upload(c.Request.Context(), file)
	if err != nil {
		logger.Error("image upload failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to upload image")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"url": res.URL, "provider": res.Provider})
}
