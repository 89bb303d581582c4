package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// RedisStreamQueue appends jobs to a Redis stream read by a consumer group.
type RedisStreamQueue struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamQueue(rdb *redis.Client, stream string) *RedisStreamQueue {
	if stream == "" {
		stream = "evaluation:jobs"
	}
	return &RedisStreamQueue{rdb: rdb, stream: stream, maxLen: 100000}
}

func (q *RedisStreamQueue) Stream() string { return q.stream }

func (q *RedisStreamQueue) Enqueue(ctx context.Context, job EvaluationJob) (string, error) {
	if job.JobID == "" || job.SessionID == "" {
		return "", errors.New("job_id and session_id are required")
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":     job.JobID,
			"session_id": job.SessionID,
			payloadField: string(b),
		},
	}).Result()
}

// DecodeJob reads the job back out of a stream message.
func DecodeJob(msg redis.XMessage) (*EvaluationJob, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}
	var job EvaluationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	if job.SessionID == "" {
		return nil, fmt.Errorf("message %s has no session_id", msg.ID)
	}
	return &job, nil
}
