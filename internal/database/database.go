package database

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"canopy/backend/internal/logger"
)

var Client *mongo.Client

// ConnectDB dials MongoDB from MONGO_URI and pings the primary before
// returning. Fatal on failure; the server cannot run without it.
func ConnectDB(log *logger.Logger) {
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		log.Fatal("MONGO_URI environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		log.Fatal("mongo connect failed", "error", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		log.Fatal("mongo ping failed", "error", err)
	}

	Client = client
	log.Info("connected to MongoDB")

	if err := ensureIndexes(ctx); err != nil {
		log.Fatal("index setup failed", "error", err)
	}
}

func ensureIndexes(ctx context.Context) error {
	db := DB()

	_, err := db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("nodes").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "orderKey", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection("grants").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "nodeId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// DB returns the application database named by DB_NAME.
func DB() *mongo.Database {
	return Client.Database(os.Getenv("DB_NAME"))
}
