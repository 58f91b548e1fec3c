package handlers

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// APIError carries an HTTP status through c.Error to ErrorHandler.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

func NewAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}

// duplicateAs turns a duplicate-key write error into a 400 with message.
// Other errors pass through and end up as a logged 500.
func duplicateAs(err error, message string) error {
	if mongo.IsDuplicateKeyError(err) {
		return NewAPIError(http.StatusBadRequest, message)
	}
	return err
}

// NotFound answers every unmatched route.
func NotFound(c *gin.Context) {
	respondError(c, http.StatusNotFound, "Not Found - "+c.Request.URL.Path)
}

// ErrorHandler recovers panics and answers errors that handlers attached
// with c.Error but did not respond to.
func ErrorHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				if !c.Writer.Written() {
					respondError(c, http.StatusInternalServerError, "Internal Server Error")
				} else {
					c.Abort()
				}
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			respondError(c, apiErr.Status, apiErr.Message)
			return
		}
		log.Error("unhandled error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
	}
}
