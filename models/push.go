package models

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PushSubscription struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	UserID    primitive.ObjectID   `bson:"userId"`
	Endpoint  string               `bson:"endpoint"`
	Sub       webpush.Subscription `bson:"sub"`
	CreatedAt time.Time            `bson:"createdAt"`
}
