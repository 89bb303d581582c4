package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/alerts"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/queue"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/utils"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeScorer struct {
	err error
}

func (s fakeScorer) Score(ctx context.Context, job queue.EvaluationJob) (*queue.EvaluationOutcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := 7.5
	return &queue.EvaluationOutcome{JobID: job.JobID, SessionID: job.SessionID, OverallScore: &v, Summary: "ok"}, nil
}

type fakeDispatcher struct {
	services.EvaluationDispatcher
	mu      sync.Mutex
	applied []queue.EvaluationOutcome
	err     error
}

func (d *fakeDispatcher) ApplyResult(ctx context.Context, o queue.EvaluationOutcome) (*models.EvaluationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.applied = append(d.applied, o)
	return &models.EvaluationResult{ID: "r-1", SessionID: o.SessionID}, nil
}

type fakeArchive struct{ calls []string }

func (a *fakeArchive) ArchiveEvaluation(ctx context.Context, sessionID string) (*models.EvaluationArchive, error) {
	a.calls = append(a.calls, sessionID)
	return &models.EvaluationArchive{SessionID: sessionID}, nil
}

type captureNotifier struct{ alerts []alerts.Alert }

func (n *captureNotifier) Notify(ctx context.Context, a alerts.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

func enqueued(t *testing.T, rdb *redis.Client) redis.XMessage {
	t.Helper()
	q := queue.NewRedisStreamQueue(rdb, "")
	_, err := q.Enqueue(context.Background(), queue.EvaluationJob{JobID: "j-1", SessionID: "s-1"})
	require.NoError(t, err)
	msgs, err := rdb.XRange(context.Background(), q.Stream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestEvaluationWorkerAppliesAndArchives(t *testing.T) {
	rdb := newRedis(t)
	results := queue.NewRedisResultStore(rdb, time.Hour)
	disp := &fakeDispatcher{}
	arch := &fakeArchive{}
	p := &EvaluationWorkerPool{
		Redis: rdb, Scorer: fakeScorer{}, Results: results, Dispatcher: disp, Archive: arch,
		Notifier: &captureNotifier{}, Logger: quietLogger(), JobTimeout: time.Second,
	}

	p.handleMsg(context.Background(), enqueued(t, rdb))

	require.Len(t, disp.applied, 1)
	assert.Equal(t, "s-1", disp.applied[0].SessionID)
	assert.False(t, disp.applied[0].CompletedAt.IsZero())
	assert.Equal(t, []string{"s-1"}, arch.calls)

	stored, ok, err := results.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ok", stored.Summary)
}

func TestEvaluationWorkerKeepsResultWhenApplyFails(t *testing.T) {
	rdb := newRedis(t)
	results := queue.NewRedisResultStore(rdb, time.Hour)
	arch := &fakeArchive{}
	p := &EvaluationWorkerPool{
		Redis: rdb, Scorer: fakeScorer{}, Results: results, Archive: arch, Logger: quietLogger(),
		Dispatcher: &fakeDispatcher{err: utils.E(utils.CodeUnavailable, "test", "db down", nil)},
		Notifier:   &captureNotifier{}, JobTimeout: time.Second,
	}

	p.handleMsg(context.Background(), enqueued(t, rdb))

	_, ok, err := results.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, arch.calls)
}

func TestEvaluationWorkerAlertsOnScoringFailure(t *testing.T) {
	rdb := newRedis(t)
	disp := &fakeDispatcher{}
	n := &captureNotifier{}
	p := &EvaluationWorkerPool{
		Redis: rdb, Scorer: fakeScorer{err: errors.New("model unavailable")},
		Results: queue.NewRedisResultStore(rdb, time.Hour), Dispatcher: disp,
		Notifier: n, Logger: quietLogger(), JobTimeout: time.Second,
	}

	p.handleMsg(context.Background(), enqueued(t, rdb))

	assert.Empty(t, disp.applied)
	require.Len(t, n.alerts, 1)
	assert.Equal(t, alerts.KindScoringFailed, n.alerts[0].Kind)
	assert.Equal(t, "s-1", n.alerts[0].SessionID)
}

func TestEvaluationWorkerConsumesStream(t *testing.T) {
	rdb := newRedis(t)
	disp := &fakeDispatcher{}
	p := &EvaluationWorkerPool{
		Redis: rdb, Scorer: fakeScorer{}, Results: queue.NewRedisResultStore(rdb, time.Hour),
		Dispatcher: disp, Logger: quietLogger(), NumWorkers: 1,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	_, err := queue.NewRedisStreamQueue(rdb, "").Enqueue(ctx, queue.EvaluationJob{JobID: "j-9", SessionID: "s-9"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		disp.mu.Lock()
		defer disp.mu.Unlock()
		return len(disp.applied) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

type memChunks struct {
	services.BufferService
	mu     sync.Mutex
	status map[int64]string
	text   map[int64]string
}

func (m *memChunks) MarkSTT(ctx context.Context, sessionID, questionID string, chunkIndex int64, rawText string, confidence float64, status string, processingMS int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		m.status, m.text = map[int64]string{}, map[int64]string{}
	}
	m.status[chunkIndex] = status
	m.text[chunkIndex] = rawText
	return nil
}

type fakeSTT struct {
	err  error
	lang string
}

func (s *fakeSTT) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	s.lang = language
	if s.err != nil {
		return "", 0, s.err
	}
	return "hello " + string(audio), 0.9, nil
}

func (s *fakeSTT) Close() error { return nil }

func TestAudioWorkerTranscribesAndPublishes(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "session:s-1:response")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	buf := &memChunks{}
	recognizer := &fakeSTT{}
	p := &AudioWorkerPool{Redis: rdb, Buffers: buf, STT: recognizer, Language: "en-US", Logger: quietLogger()}

	p.handleMsg(ctx, redis.XMessage{ID: "1-0", Values: map[string]any{
		"session_id":   "s-1",
		"question_id":  "q-1",
		"chunk_index":  "2",
		"language":     "id",
		"audio_base64": "data:audio/webm;base64," + base64.StdEncoding.EncodeToString([]byte("world")),
	}})

	assert.Equal(t, models.ChunkDone, buf.status[2])
	assert.Equal(t, "hello world", buf.text[2])
	assert.Equal(t, "id-ID", recognizer.lang)

	select {
	case msg := <-sub.Channel():
		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &body))
		assert.Equal(t, "stt_result", body["type"])
		assert.Equal(t, "q-1", body["question_id"])
		assert.Equal(t, "hello world", body["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("no stt_result published")
	}
}

func TestAudioWorkerFetchesURLAndMarksFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("clip"))
	}))
	defer srv.Close()

	rdb := newRedis(t)
	buf := &memChunks{}
	p := &AudioWorkerPool{Redis: rdb, Buffers: buf, STT: &fakeSTT{}, Logger: quietLogger(), HTTP: srv.Client()}

	msg := func(idx, url string) redis.XMessage {
		return redis.XMessage{ID: "1-" + idx, Values: map[string]any{
			"session_id": "s-1", "question_id": "q-1", "chunk_index": idx, "audio_url": url,
		}}
	}
	p.handleMsg(context.Background(), msg("1", srv.URL))
	assert.Equal(t, "hello clip", buf.text[1])

	p.STT = &fakeSTT{err: errors.New("quota")}
	p.handleMsg(context.Background(), msg("2", srv.URL))
	assert.Equal(t, models.ChunkFailed, buf.status[2])

	p.handleMsg(context.Background(), msg("3", ""))
	assert.Equal(t, models.ChunkFailed, buf.status[3])
}

func TestAudioWorkerIgnoresUnkeyedChunks(t *testing.T) {
	buf := &memChunks{}
	p := &AudioWorkerPool{Redis: newRedis(t), Buffers: buf, STT: &fakeSTT{}, Logger: quietLogger()}
	p.handleMsg(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{"session_id": "s-1", "chunk_index": "1"}})
	assert.Empty(t, buf.status)
}

type fakeAbandoner struct {
	mu    sync.Mutex
	calls []string
}

func (a *fakeAbandoner) AbandonByApplication(ctx context.Context, applicationID, reason string) (*models.InterviewSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applicationID+"|"+reason)
	return &models.InterviewSession{ID: "s-" + applicationID}, nil
}

func TestParseWithdrawn(t *testing.T) {
	m, ok := parseWithdrawn(`{"application_id":"a-1","reason":"hired elsewhere"}`)
	require.True(t, ok)
	assert.Equal(t, "a-1", m.ApplicationID)
	assert.Equal(t, "hired elsewhere", m.Reason)

	m, ok = parseWithdrawn(" a-2 ")
	require.True(t, ok)
	assert.Equal(t, "a-2", m.ApplicationID)
	assert.Equal(t, "application withdrawn", m.Reason)

	_, ok = parseWithdrawn(`{"reason":"x"}`)
	assert.False(t, ok)
	_, ok = parseWithdrawn(`{bad`)
	assert.False(t, ok)
}

func TestApplicationSubscriberAbandons(t *testing.T) {
	rdb := newRedis(t)
	ab := &fakeAbandoner{}
	s := &ApplicationSubscriber{Redis: rdb, Sessions: ab, Logger: quietLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, rdb.Publish(ctx, WithdrawnChannel, `{"application_id":"a-7"}`).Err())

	assert.Eventually(t, func() bool {
		ab.mu.Lock()
		defer ab.mu.Unlock()
		return len(ab.calls) == 1 && ab.calls[0] == "a-7|application withdrawn"
	}, 2*time.Second, 20*time.Millisecond)
}
