package config

import (
	"context"
	"errors"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDatabase returns the configured database (MONGO_DB, default "mlbai").
func MongoDatabase() (*mongo.Database, error) {
	if MongoClient == nil {
		return nil, errors.New("MongoClient is nil; call InitMongo() first")
	}
	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "mlbai"
	}
	return MongoClient.Database(dbName), nil
}

func EnsureMongoIndexes() error {
	db, err := MongoDatabase()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs := db.Collection("sync_runs")
	_, err = runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// TTL index: expire at ExpiresAt (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_run_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "started_at", Value: -1}},
			Options: options.Index().SetName("by_started"),
		},
	})
	return err
}
