package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var Client *mongo.Client
var DB *mongo.Database
var Users *mongo.Collection
var Blogs *mongo.Collection
var PushSubs *mongo.Collection

// SupportsTransactions is set at connect time. Standalone servers reject
// multi-document transactions, replica sets and mongos accept them.
var SupportsTransactions bool

// ConnectMongo connects, pings and binds the package-level collections.
func ConnectMongo(ctx context.Context, uri, dbName string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	Use(client, dbName)
	SupportsTransactions = detectTransactions(ctx, DB)
	return nil
}

// ConnectWithRetry tries ConnectMongo up to attempts times, pausing between tries.
func ConnectWithRetry(ctx context.Context, uri, dbName string, attempts int, pause time.Duration, log *zap.Logger) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = ConnectMongo(ctx, uri, dbName); lastErr == nil {
			return nil
		}
		log.Warn("MongoDB connection attempt failed", zap.Int("attempt", i), zap.Error(lastErr))
		if i < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return fmt.Errorf("connect to MongoDB after %d attempts: %w", attempts, lastErr)
}

// Use binds the collections of dbName on an existing client.
func Use(client *mongo.Client, dbName string) {
	Client = client
	DB = client.Database(dbName)
	Users = DB.Collection("users")
	Blogs = DB.Collection("blogs")
	PushSubs = DB.Collection("push_subscriptions")
}

func DisconnectMongo() error {
	if Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return Client.Disconnect(ctx)
}

func detectTransactions(ctx context.Context, db *mongo.Database) bool {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return false
	}
	return hello.SetName != "" || hello.Msg == "isdbgrid"
}

// EnsureIndexes creates the indexes the handlers rely on for uniqueness and lookups.
func EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := map[*mongo.Collection][]mongo.IndexModel{
		Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		Blogs: {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "author", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "tags", Value: 1}}},
		},
		PushSubs: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "endpoint", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, models := range specs {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// RunInTransaction runs fn inside a transaction when the deployment supports
// one. On a standalone server fn runs directly and its writes are not atomic.
func RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !SupportsTransactions {
		return fn(ctx)
	}

	sess, err := Client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// IsNotFound reports whether err is the driver's no-documents error.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
