package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisResultStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisResultStore(rdb *redis.Client, ttl time.Duration) *RedisResultStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResultStore{rdb: rdb, ttl: ttl}
}

func resultKey(sessionID string) string { return "evaluation:result:" + sessionID }

func (s *RedisResultStore) Put(ctx context.Context, o EvaluationOutcome) error {
	if o.SessionID == "" {
		return errors.New("session_id is required")
	}
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, resultKey(o.SessionID), b, s.ttl).Err()
}

func (s *RedisResultStore) Get(ctx context.Context, sessionID string) (*EvaluationOutcome, bool, error) {
	b, err := s.rdb.Get(ctx, resultKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var o EvaluationOutcome
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, false, err
	}
	return &o, true, nil
}

func (s *RedisResultStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, resultKey(sessionID)).Err()
}
