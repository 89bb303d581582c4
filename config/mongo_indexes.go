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

const (
	AnswerChunksCollection  = "answer_chunks"
	SessionEventsCollection = "session_events"
)

// MongoDatabaseName reads MONGO_DB, defaulting to "yoointerview".
func MongoDatabaseName() string {
	if name := os.Getenv("MONGO_DB"); name != "" {
		return name
	}
	return "yoointerview"
}

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	db := MongoClient.Database(MongoDatabaseName())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// answer_chunks indexes
	chunks := db.Collection(AnswerChunksCollection)
	_, err := chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// chunks are scratch data; expire at ExpiresAt (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		// no duplicate chunk per answer
		{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "question_id", Value: 1},
				{Key: "chunk_index", Value: 1},
			},
			Options: options.Index().
				SetName("uniq_session_question_chunk").
				SetUnique(true),
		},
	})
	if err != nil {
		return err
	}

	events := db.Collection(SessionEventsCollection)
	_, err = events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "at", Value: 1}},
			Options: options.Index().SetName("by_session_at"),
		},
		{
			Keys:    bson.D{{Key: "type", Value: 1}, {Key: "at", Value: -1}},
			Options: options.Index().SetName("by_type_at"),
		},
	})
	return err
}
