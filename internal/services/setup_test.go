package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/alerts"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/locks"
	"github.com/yoockh/yoointerview/internal/logger"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/room"
	"github.com/yoockh/yoointerview/internal/questionbank"
	"github.com/yoockh/yoointerview/internal/queue"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/testhelpers"
	"gorm.io/gorm"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeRooms struct {
	mu       sync.Mutex
	fail     int
	acquired int
	released []string
}

func (f *fakeRooms) Acquire(ctx context.Context, sessionID string) (*room.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return nil, room.ErrUnavailable
	}
	f.acquired++
	name := "room-" + sessionID
	return &room.Handle{
		Name:      name,
		URL:       "https://rooms.test/" + name,
		Token:     "token-" + name,
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}, nil
}

func (f *fakeRooms) Release(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, name)
	return nil
}

func (f *fakeRooms) ICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.test:3478"}}}
}

func (f *fakeRooms) acquiredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

type fakeQueue struct {
	mu   sync.Mutex
	down bool
	jobs []queue.EvaluationJob
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.EvaluationJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return "", errors.New("queue unavailable")
	}
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

func (q *fakeQueue) setDown(v bool) {
	q.mu.Lock()
	q.down = v
	q.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, a alerts.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type fixture struct {
	db         *gorm.DB
	repo       pgrepo.InterviewRepository
	apps       pgrepo.ApplicationRepository
	rooms      *fakeRooms
	queue      *fakeQueue
	results    queue.ResultStore
	notifier   *recordingNotifier
	clock      *clock
	svc        InterviewService
	dispatcher EvaluationDispatcher
	poller     ResultService
}

type fixtureOption func(*InterviewDeps)

func withBuffers(b BufferService) fixtureOption {
	return func(d *InterviewDeps) { d.Buffers = b }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := testhelpers.SetupTestDB(t)
	_, rdb := testhelpers.SetupTestRedis(t)
	bank, err := questionbank.Load("")
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		repo:     pgrepo.NewInterviewRepo(db),
		apps:     pgrepo.NewApplicationRepo(db),
		rooms:    &fakeRooms{},
		queue:    &fakeQueue{},
		results:  queue.NewRedisResultStore(rdb, time.Hour),
		notifier: &recordingNotifier{},
		clock:    &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	locker := locks.NewLocalLocker()
	log := logger.Discard()
	rc := cache.NewRedisCache(rdb)

	f.dispatcher = NewEvaluationDispatcher(DispatcherDeps{
		Sessions: f.repo,
		Queue:    f.queue,
		Results:  f.results,
		Cache:    rc,
		Locker:   locker,
		Notifier: f.notifier,
		Logger:   log,
		Evaluation: config.EvaluationSettings{
			EnqueueAttempts:     2,
			RetryBackoff:        time.Millisecond,
			SettleDelay:         30 * time.Second,
			StuckAfter:          5 * time.Minute,
			MaxDispatchAttempts: 3,
			Timeout:             30 * time.Minute,
			CacheTTL:            time.Hour,
		},
		LockTimeout: time.Second,
		Now:         f.clock.Now,
	})

	deps := InterviewDeps{
		Sessions:     f.repo,
		Applications: f.apps,
		Rooms:        f.rooms,
		Locker:       locker,
		Dispatcher:   f.dispatcher,
		Bank:         bank,
		Logger:       log,
		Interview: config.InterviewSettings{
			InactivityTimeout: 15 * time.Minute,
			BeginTimeout:      30 * time.Minute,
			AnswerGrace:       15 * time.Second,
			PollInterval:      5 * time.Second,
			LockTimeout:       time.Second,
		},
		Room: config.RoomSettings{AcquireAttempts: 2, RetryBackoff: time.Millisecond},
		Now:  f.clock.Now,
	}
	for _, o := range opts {
		o(&deps)
	}
	f.svc = NewInterviewService(deps)
	f.poller = NewResultService(f.repo, rc, time.Hour, 5*time.Second, log)
	return f
}

func threeQuestions() []questionbank.Question {
	return []questionbank.Question{
		{Category: "technical", Text: "Q1", MaxDurationSeconds: 60},
		{Category: "technical", Text: "Q2", MaxDurationSeconds: 60},
		{Category: "behavioral", Text: "Q3", MaxDurationSeconds: 90},
	}
}

// started creates a three question session and begins it.
func (f *fixture) started(t *testing.T) (*models.InterviewSession, []QuestionView) {
	t.Helper()
	ctx := context.Background()

	app := testhelpers.SeedApplication(t, f.db, f.clock.Now())
	sess, err := f.svc.CreateSession(ctx, CreateSessionInput{ApplicationID: app.ID, Questions: threeQuestions()})
	require.NoError(t, err)

	_, err = f.svc.BeginSession(ctx, sess.ID)
	require.NoError(t, err)

	qs, err := f.svc.ListQuestions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	return sess, qs
}

func (f *fixture) submit(t *testing.T, sessionID, questionID string) (*SubmitResult, error) {
	t.Helper()
	return f.svc.SubmitAnswer(context.Background(), SubmitAnswerInput{
		SessionID:       sessionID,
		QuestionID:      questionID,
		Transcript:      "answer to " + questionID,
		DurationSeconds: 30,
	})
}

func (f *fixture) reload(t *testing.T, id string) *models.InterviewSession {
	t.Helper()
	s, err := f.repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) countAnswers(t *testing.T, sessionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Answer{}).Where("session_id = ?", sessionID).Count(&n).Error)
	return n
}
