package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/alerts"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/queue"
	"github.com/yoockh/yoointerview/internal/utils"
)

func score(v float64) *float64 { return &v }

func (f *fixture) completed(t *testing.T) *models.InterviewSession {
	t.Helper()
	sess, qs := f.started(t)
	for _, q := range qs {
		_, err := f.submit(t, sess.ID, q.ID)
		require.NoError(t, err)
	}
	return f.reload(t, sess.ID)
}

func outcomeFor(sess *models.InterviewSession) queue.EvaluationOutcome {
	return queue.EvaluationOutcome{
		JobID:               sess.EvaluationJobID,
		SessionID:           sess.ID,
		OverallScore:        score(7),
		TechnicalScore:      score(8),
		CommunicationScore:  score(6.5),
		Summary:             "Good fundamentals",
		Strengths:           []string{"clear structure", "idempotency"},
		AreasForImprovement: []string{"depth on indexing"},
		Raw:                 []byte(`{"overall_score":7}`),
	}
}

func TestApplyResultIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completed(t)
	require.Equal(t, models.StatusEvaluating, sess.Status)

	first, err := f.dispatcher.ApplyResult(ctx, outcomeFor(sess))
	require.NoError(t, err)
	second, err := f.dispatcher.ApplyResult(ctx, outcomeFor(sess))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var n int64
	require.NoError(t, f.db.Model(&models.EvaluationResult{}).Where("session_id = ?", sess.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	got := f.reload(t, sess.ID)
	assert.Equal(t, models.StatusEvaluated, got.Status)
	require.NotNil(t, got.EvaluatedAt)
	assert.Equal(t, sess.Version+1, got.Version)

	stored, err := f.repo.GetEvaluation(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"clear structure", "idempotency"}, []string(stored.Strengths))
	assert.Nil(t, stored.ProblemSolvingScore)
}

func TestApplyResultRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, _ := f.started(t)
	o := queue.EvaluationOutcome{SessionID: sess.ID, OverallScore: score(5)}
	_, err := f.dispatcher.ApplyResult(ctx, o)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	o.OverallScore = score(12)
	_, err = f.dispatcher.ApplyResult(ctx, o)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = f.dispatcher.ApplyResult(ctx, queue.EvaluationOutcome{SessionID: "missing"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestRetryPendingRedispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.setDown(true)
	sess := f.completed(t)
	require.Equal(t, models.StatusCompleted, sess.Status)

	// not settled yet
	n, err := f.dispatcher.RetryPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.queue.setDown(false)
	f.clock.Advance(time.Minute)
	n, err = f.dispatcher.RetryPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reload(t, sess.ID)
	assert.Equal(t, models.StatusEvaluating, got.Status)
	assert.Equal(t, 2, got.DispatchAttempts)
	assert.Empty(t, got.LastDispatchError)
}

func TestStuckDispatchIsSurfacedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.setDown(true)
	sess := f.completed(t)

	for i := 0; i < 4; i++ {
		f.clock.Advance(time.Minute)
		_, err := f.dispatcher.RetryPending(ctx, 10)
		require.NoError(t, err)
	}

	got := f.reload(t, sess.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.DispatchAttempts)
	require.NotNil(t, got.DispatchStuckAt)

	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, alerts.KindDispatchStuck, f.notifier.alerts[0].Kind)

	stuck, err := f.dispatcher.ListStuck(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, sess.ID, stuck[0].ID)

	view, err := f.poller.GetResults(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, view.DispatchStuck)
	assert.Nil(t, view.Result)
}

func TestStuckAfterElapsedTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.setDown(true)
	sess := f.completed(t)

	f.clock.Advance(6 * time.Minute)
	require.Error(t, f.dispatcher.Dispatch(ctx, sess.ID))

	got := f.reload(t, sess.ID)
	assert.Equal(t, 2, got.DispatchAttempts)
	assert.NotNil(t, got.DispatchStuckAt)
}

func TestApplyStoredResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completed(t)

	require.NoError(t, f.results.Put(ctx, outcomeFor(sess)))

	n, err := f.dispatcher.ApplyStoredResults(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusEvaluated, f.reload(t, sess.ID).Status)

	_, ok, err := f.results.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlagOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completed(t)

	f.clock.Advance(31 * time.Minute)
	n, err := f.dispatcher.FlagOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.dispatcher.FlagOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	got := f.reload(t, sess.ID)
	assert.NotNil(t, got.EvaluationOverdueAt)
	assert.Equal(t, models.StatusEvaluating, got.Status)
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, alerts.KindEvaluationOverdue, f.notifier.alerts[0].Kind)

	_, err = f.dispatcher.ApplyResult(ctx, outcomeFor(got))
	require.NoError(t, err)
}

func TestDispatchIgnoresAlreadyDispatched(t *testing.T) {
	f := newFixture(t)
	sess := f.completed(t)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), sess.ID))
	assert.Len(t, f.queue.jobs, 1)
}
