package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"blogsy/ai"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	aiTimeout = 60 * time.Second
	// time left after the model answers to write the response
	aiWriteMargin = 5 * time.Second
)

type AIRequest struct {
	Prompt  string `json:"prompt"`
	Action  string `json:"action"`
	Context string `json:"context"`
}

// GenerateAI runs one writing-assist action against the configured model.
func GenerateAI(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if aiClient == nil {
		respondError(c, http.StatusServiceUnavailable, "AI service not configured")
		return
	}

	var req AIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		respondError(c, http.StatusBadRequest, "Prompt is required")
		return
	}
	if utf8.RuneCountInString(prompt) > ai.MaxPromptLength {
		respondError(c, http.StatusBadRequest, "Prompt cannot exceed 4000 characters")
		return
	}
	if utf8.RuneCountInString(req.Context) > ai.MaxContextLength {
		respondError(c, http.StatusBadRequest, "Context cannot exceed 8000 characters")
		return
	}
	action, err := ai.NormalizeAction(req.Action)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid action")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), aiDeadline())
	defer cancel()

	result, err := aiClient.Generate(ctx, ai.Request{Action: action, Prompt: prompt, Context: req.Context})
	if err != nil {
		logger.Error("ai generation failed",
			zap.String("user_id", userID.Hex()),
			zap.String("action", action),
			zap.Error(err),
		)
		respondError(c, http.StatusBadGateway, "AI service error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result, "action": action})
}

// aiDeadline keeps the model call inside the server's write timeout so the
// 502 can still reach the client.
func aiDeadline() time.Duration {
	if cfg == nil || cfg.WriteTimeout <= aiWriteMargin {
		return aiTimeout
	}
	if d := cfg.WriteTimeout - aiWriteMargin; d < aiTimeout {
		return d
	}
	return aiTimeout
}
