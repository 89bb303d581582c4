package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestEnqueueAndDecode(t *testing.T) {
	_, rdb := setupRedis(t)
	q := NewRedisStreamQueue(rdb, "")
	ctx := context.Background()

	job := EvaluationJob{
		JobID:     "job-1",
		SessionID: "sess-1",
		Answers: []JobAnswer{
			{QuestionID: "q1", OrderNum: 1, Transcript: "first"},
			{QuestionID: "q2", OrderNum: 2, Transcript: "second"},
		},
		EnqueuedAt: time.Now().UTC(),
	}
	id, err := q.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := rdb.XRange(ctx, q.Stream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "sess-1", msgs[0].Values["session_id"])

	got, err := DecodeJob(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	require.Len(t, got.Answers, 2)
	assert.Equal(t, "second", got.Answers[1].Transcript)
}

func TestEnqueueRejectsIncompleteJob(t *testing.T) {
	_, rdb := setupRedis(t)
	_, err := NewRedisStreamQueue(rdb, "jobs").Enqueue(context.Background(), EvaluationJob{JobID: "j"})
	assert.Error(t, err)
}

func TestEnqueueFailsWhenRedisDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	mr.Close()

	_, err := NewRedisStreamQueue(rdb, "jobs").Enqueue(context.Background(), EvaluationJob{JobID: "j", SessionID: "s"})
	assert.Error(t, err)
}

func TestDecodeJobErrors(t *testing.T) {
	_, err := DecodeJob(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	assert.Error(t, err)

	_, err = DecodeJob(redis.XMessage{ID: "1-1", Values: map[string]any{"payload": "{not json"}})
	assert.Error(t, err)

	_, err = DecodeJob(redis.XMessage{ID: "1-2", Values: map[string]any{"payload": `{"job_id":"j"}`}})
	assert.Error(t, err)
}

func TestResultStoreRoundTrip(t *testing.T) {
	mr, rdb := setupRedis(t)
	store := NewRedisResultStore(rdb, time.Hour)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	score := 8.0
	require.NoError(t, store.Put(ctx, EvaluationOutcome{JobID: "j", SessionID: "sess-1", OverallScore: &score, Strengths: []string{"a"}}))
	assert.Equal(t, time.Hour, mr.TTL("evaluation:result:sess-1"))

	got, ok, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 8.0, *got.OverallScore)
	assert.Equal(t, []string{"a"}, got.Strengths)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, ok, err = store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, store.Put(ctx, EvaluationOutcome{}))
}
