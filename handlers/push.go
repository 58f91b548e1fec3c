package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"blogsy/database"
	"blogsy/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const pushTTL = 60

type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// Notification is delivered over the websocket and as the web push payload.
type Notification struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func pushEnabled() bool {
	return cfg != nil && cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != ""
}

func GetVapidPublicKey(c *gin.Context) {
	if !pushEnabled() {
		respondError(c, http.StatusServiceUnavailable, "Push notifications not configured")
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": cfg.VAPIDPublicKey})
}

func SubscribePush(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !pushEnabled() {
		respondError(c, http.StatusServiceUnavailable, "Push notifications not configured")
		return
	}

	var req PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Endpoint and keys are required")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	sub := webpush.Subscription{
		Endpoint: req.Endpoint,
		Keys:     webpush.Keys{P256dh: req.Keys.P256dh, Auth: req.Keys.Auth},
	}
	_, err := database.PushSubs.UpdateOne(ctx,
		bson.M{"userId": userID, "endpoint": req.Endpoint},
		bson.M{
			"$set":         bson.M{"sub": sub},
			"$setOnInsert": bson.M{"_id": primitive.NewObjectID(), "createdAt": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		logger.Error("failed to save push subscription", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to save subscription")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Push subscription saved"})
}

func UnsubscribePush(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Endpoint is required")
		return
	}

	ctx, cancel := dbContext(c)
	defer cancel()

	res, err := database.PushSubs.DeleteOne(ctx, bson.M{"userId": userID, "endpoint": req.Endpoint})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to remove subscription")
		return
	}
	if res.DeletedCount == 0 {
		respondError(c, http.StatusNotFound, "Subscription not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Push subscription removed"})
}

// notify tells recipient about an event on every open websocket and, when
// configured, through web push. Push delivery runs in the background.
func notify(recipient primitive.ObjectID, kind, message, link string) {
	n := Notification{Kind: kind, Message: message, Link: link, CreatedAt: time.Now().UTC()}

	if wsManager != nil {
		wsManager.NotifyUser(recipient.Hex(), n)
	}
	if !pushEnabled() || database.PushSubs == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sendPush(ctx, recipient, n)
	}()
}

func sendPush(ctx context.Context, recipient primitive.ObjectID, n Notification) {
	cursor, err := database.PushSubs.Find(ctx, bson.M{"userId": recipient})
	if err != nil {
		logger.Warn("failed to load push subscriptions", zap.Error(err))
		return
	}
	var subs []models.PushSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		logger.Warn("failed to decode push subscriptions", zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(gin.H{
		"title": "BlogSy",
		"body":  n.Message,
		"data":  gin.H{"kind": n.Kind, "url": n.Link},
	})
	if err != nil {
		return
	}

	opts := &webpush.Options{
		Subscriber:      cfg.VAPIDSubject,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		TTL:             pushTTL,
	}
	for i := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &subs[i].Sub, opts)
		if err != nil {
			logger.Warn("push delivery failed", zap.String("user_id", recipient.Hex()), zap.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if _, err := database.PushSubs.DeleteOne(ctx, bson.M{"_id": subs[i].ID}); err != nil {
				logger.Warn("failed to delete expired push subscription", zap.Error(err))
			}
			continue
		}
		if resp.StatusCode >= 400 {
			logger.Warn("push service rejected notification", zap.String("user_id", recipient.Hex()), zap.Int("status", resp.StatusCode))
		}
	}
}
