package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"blogsy/ai"
	"blogsy/config"
	"blogsy/database"
	"blogsy/mailer"
	"blogsy/middleware"
	"blogsy/models"
	"blogsy/storage"
	"blogsy/websocket"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Common constants and variables shared across all handler files
const (
	fallbackAvatar = "https://upload.wikimedia.org/wikipedia/commons/8/89/Portrait_Placeholder.png"
	dbTimeout      = 10 * time.Second
	defaultLimit   = 10
	maxLimit       = 50
)

var (
	cfg       *config.Config
	logger    = zap.NewNop()
	tokens    *middleware.TokenManager
	uploader  storage.Uploader
	mail      mailer.Sender
	aiClient  ai.Generator
	wsManager *websocket.Manager
)

// Dependencies are the collaborators the handlers need. AI and WebSocket may be nil.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Tokens    *middleware.TokenManager
	Uploader  storage.Uploader
	Mailer    mailer.Sender
	AI        ai.Generator
	WebSocket *websocket.Manager
}

func Setup(d Dependencies) {
	cfg = d.Config
	if d.Logger != nil {
		logger = d.Logger
	}
	tokens = d.Tokens
	uploader = d.Uploader
	mail = d.Mailer
	aiClient = d.AI
	wsManager = d.WebSocket
	initGoogleOAuth()
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

func dbContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), dbTimeout)
}

// currentUser returns the authenticated user's id or answers 401.
func currentUser(c *gin.Context) (primitive.ObjectID, bool) {
	id := middleware.UserID(c)
	if id.IsZero() {
		respondError(c, http.StatusUnauthorized, "Not authorized")
		return id, false
	}
	return id, true
}

// paramID parses a path parameter as an ObjectID or answers 400.
func paramID(c *gin.Context, name, label string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid "+label+" id")
		return id, false
	}
	return id, true
}

func pagination(c *gin.Context) (page, limit int64) {
	page, _ = strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	limit, _ = strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)), 10, 64)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func totalPages(total, limit int64) int64 {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// loadUserSummaries fetches author cards for ids in one query.
func loadUserSummaries(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error) {
	out := make(map[primitive.ObjectID]models.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	projection := bson.M{"username": 1, "name": 1, "avatar": 1}
	cursor, err := database.Users.Find(ctx, bson.M{"_id": bson.M{"$in": uniqueIDs(ids)}}, options.Find().SetProjection(projection))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []models.UserSummary
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Avatar == "" {
			u.Avatar = fallbackAvatar
		}
		out[u.ID] = u
	}
	return out, nil
}

// summaryFor falls back to a placeholder card for deleted users.
func summaryFor(users map[primitive.ObjectID]models.UserSummary, id primitive.ObjectID) models.UserSummary {
	if u, ok := users[id]; ok {
		return u
	}
	return models.UserSummary{ID: id, Username: "deleted", Name: "Unknown User", Avatar: fallbackAvatar}
}

func uniqueIDs(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(ids))
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
