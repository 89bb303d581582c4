package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/config"
)

// Sweeper expires sessions that were abandoned without notice.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Reconciler is the evaluation side of the periodic pass.
type Reconciler interface {
	RetryPending(ctx context.Context, limit int) (int, error)
	ApplyStoredResults(ctx context.Context, limit int) (int, error)
	FlagOverdue(ctx context.Context, limit int) (int, error)
}

// ReconcileJob runs the background passes that keep sessions moving when a
// request, a worker or the queue dropped the ball.
type ReconcileJob struct {
	sessions   Sweeper
	evaluation Reconciler
	cfg        config.JobSettings
	logger     *logrus.Logger
	cron       *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewReconcileJob(sessions Sweeper, evaluation Reconciler, cfg config.JobSettings, logger *logrus.Logger) *ReconcileJob {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ReconcileJob{
		sessions:   sessions,
		evaluation: evaluation,
		cfg:        cfg,
		logger:     logger,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start schedules both passes. An empty schedule disables that pass.
func (j *ReconcileJob) Start(ctx context.Context) error {
	if j.cfg.ReconcileSchedule != "" {
		if _, err := j.cron.AddFunc(j.cfg.ReconcileSchedule, func() { j.Reconcile(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule reconcile job: %w", err)
		}
	}
	if j.cfg.SweepSchedule != "" {
		if _, err := j.cron.AddFunc(j.cfg.SweepSchedule, func() { j.Sweep(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule sweep job: %w", err)
		}
	}
	j.cron.Start()
	j.logger.WithFields(logrus.Fields{
		"reconcile": j.cfg.ReconcileSchedule,
		"sweep":     j.cfg.SweepSchedule,
	}).Info("background jobs started")
	return nil
}

// Stop waits for a running pass to finish.
func (j *ReconcileJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
		j.logger.Info("background jobs stopped")
	}
}

// Sweep expires stale pre-completion sessions.
func (j *ReconcileJob) Sweep(ctx context.Context) int {
	n, err := j.sessions.SweepExpired(ctx, j.cfg.BatchSize)
	if err != nil {
		j.logger.WithError(err).Warn("expiry sweep failed")
	}
	if n > 0 {
		j.logger.WithField("expired", n).Info("expired stale sessions")
	}
	return n
}

// Reconcile re-dispatches, applies stored outcomes and flags overdue
// evaluations, in that order. A failing step does not stop the next.
func (j *ReconcileJob) Reconcile(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	steps := []struct {
		name string
		fn   func(context.Context, int) (int, error)
	}{
		{"redispatched", j.evaluation.RetryPending},
		{"applied", j.evaluation.ApplyStoredResults},
		{"overdue", j.evaluation.FlagOverdue},
	}
	for _, s := range steps {
		n, err := s.fn(ctx, j.cfg.BatchSize)
		if err != nil {
			j.logger.WithError(err).WithField("step", s.name).Warn("reconcile step failed")
			continue
		}
		if n > 0 {
			j.logger.WithField(s.name, n).Info("reconciled sessions")
		}
	}
}

// RunOnce runs every pass immediately.
func (j *ReconcileJob) RunOnce(ctx context.Context) {
	j.Sweep(ctx)
	j.Reconcile(ctx)
}
