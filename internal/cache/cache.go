package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// EvaluationKey holds an applied evaluation result; results never change so
// the entry is only dropped by its TTL.
func EvaluationKey(sessionID string) string { return "cache:evaluation:" + sessionID }
