package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoointerview/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDuplicateChunk = errors.New("duplicate answer chunk")

type BufferRepository interface {
	InsertChunk(ctx context.Context, c *models.AnswerChunk) error
	UpdateSTT(ctx context.Context, sessionID, questionID string, chunkIndex int64, rawText string, confidence float64, status string, processingMS int64) error
	ListByQuestion(ctx context.Context, sessionID, questionID string, limit int64) ([]models.AnswerChunk, error)
}

type bufferRepo struct {
	col *mongo.Collection
}

func NewBufferRepo(db *mongo.Database, collection string) BufferRepository {
	return &bufferRepo{col: db.Collection(collection)}
}

func (r *bufferRepo) InsertChunk(ctx context.Context, c *models.AnswerChunk) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateChunk
	}
	return err
}

func (r *bufferRepo) UpdateSTT(ctx context.Context, sessionID, questionID string, chunkIndex int64, rawText string, confidence float64, status string, processingMS int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "question_id": questionID, "chunk_index": chunkIndex},
		bson.M{"$set": bson.M{
			"raw_text":           rawText,
			"stt_confidence":     confidence,
			"stt_status":         status,
			"processing_time_ms": processingMS,
		}},
	)
	return err
}

func (r *bufferRepo) ListByQuestion(ctx context.Context, sessionID, questionID string, limit int64) ([]models.AnswerChunk, error) {
	if limit <= 0 {
		limit = 500
	}

	cur, err := r.col.Find(ctx,
		bson.M{"session_id": sessionID, "question_id": questionID},
		options.Find().
			SetSort(bson.D{{Key: "chunk_index", Value: 1}}).
			SetProjection(bson.M{"audio_base64": 0}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AnswerChunk
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
