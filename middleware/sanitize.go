package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxSanitizedBody = 2 << 20

// Sanitize strips MongoDB operator keys ("$gt", "a.b") from JSON request
// bodies so that user input can never be interpreted as a query operator.
func Sanitize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || !strings.HasPrefix(c.ContentType(), "application/json") {
			c.Next()
			return
		}

		body := c.Request.Body
		raw, err := io.ReadAll(io.LimitReader(body, maxSanitizedBody+1))
		_ = body.Close()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Could not read request body"})
			return
		}
		if len(raw) > maxSanitizedBody {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Request body too large"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(SanitizeJSON(raw)))
		c.Next()
	}
}

// SanitizeJSON returns raw with operator keys removed at any depth. Input
// that is not valid JSON is returned unchanged and left to the binder.
func SanitizeJSON(raw []byte) []byte {
	var body interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return raw
	}

	cleaned, changed := stripOperators(body)
	if !changed {
		return raw
	}
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func stripOperators(v interface{}) (interface{}, bool) {
	changed := false
	switch t := v.(type) {
	case map[string]interface{}:
		for key, val := range t {
			if strings.HasPrefix(key, "$") || strings.Contains(key, ".") {
				delete(t, key)
				changed = true
				continue
			}
			cleaned, ch := stripOperators(val)
			t[key] = cleaned
			changed = changed || ch
		}
	case []interface{}:
		for i, val := range t {
			cleaned, ch := stripOperators(val)
			t[i] = cleaned
			changed = changed || ch
		}
	}
	return v, changed
}
