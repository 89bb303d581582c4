package mongo

import (
	"context"
	"time"

	"github.com/yoockh/yoointerview/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EventRepository is the append-only audit trail of session lifecycle events.
type EventRepository interface {
	Append(ctx context.Context, e *models.SessionEvent) error
	ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.SessionEvent, error)
	ListByType(ctx context.Context, typ string, since time.Time, limit int64) ([]models.SessionEvent, error)
}

type eventRepo struct {
	col *mongo.Collection
}

func NewEventRepo(db *mongo.Database, collection string) EventRepository {
	return &eventRepo{col: db.Collection(collection)}
}

func (r *eventRepo) Append(ctx context.Context, e *models.SessionEvent) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, e)
	return err
}

func (r *eventRepo) ListBySession(ctx context.Context, sessionID string, limit int64) ([]models.SessionEvent, error) {
	return r.find(ctx, bson.M{"session_id": sessionID}, bson.D{{Key: "at", Value: 1}}, limit)
}

func (r *eventRepo) ListByType(ctx context.Context, typ string, since time.Time, limit int64) ([]models.SessionEvent, error) {
	return r.find(ctx, bson.M{"type": typ, "at": bson.M{"$gte": since}}, bson.D{{Key: "at", Value: -1}}, limit)
}

func (r *eventRepo) find(ctx context.Context, filter bson.M, sort bson.D, limit int64) ([]models.SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(sort).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.SessionEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
