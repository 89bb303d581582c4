package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/alerts"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/locks"
	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/queue"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/utils"
)

// EvaluationDispatcher hands completed sessions to the scoring backend and
// applies what comes back, at most once per session.
type EvaluationDispatcher interface {
	Dispatch(ctx context.Context, sessionID string) error
	// DispatchHeld is Dispatch for callers already holding the session lock.
	// On return sess reflects what was persisted.
	DispatchHeld(ctx context.Context, sess *models.InterviewSession) error
	ApplyResult(ctx context.Context, o queue.EvaluationOutcome) (*models.EvaluationResult, error)

	RetryPending(ctx context.Context, limit int) (int, error)
	ApplyStoredResults(ctx context.Context, limit int) (int, error)
	FlagOverdue(ctx context.Context, limit int) (int, error)
	ListStuck(ctx context.Context, limit int) ([]models.InterviewSession, error)
}

type DispatcherDeps struct {
	Sessions pgrepo.InterviewRepository
	Queue    queue.JobQueue
	Results  queue.ResultStore
	Cache    cache.Cache
	Locker   locks.Locker
	Notifier alerts.Notifier
	Recorder *Recorder
	Logger   *logrus.Logger

	Evaluation  config.EvaluationSettings
	LockTimeout time.Duration

	Now func() time.Time
}

type evaluationDispatcher struct {
	DispatcherDeps
}

func NewEvaluationDispatcher(d DispatcherDeps) EvaluationDispatcher {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Notifier == nil {
		d.Notifier = alerts.LogNotifier{Logger: d.Logger}
	}
	if d.Evaluation.EnqueueAttempts <= 0 {
		d.Evaluation.EnqueueAttempts = 1
	}
	if d.Evaluation.MaxDispatchAttempts <= 0 {
		d.Evaluation.MaxDispatchAttempts = 10
	}
	return &evaluationDispatcher{DispatcherDeps: d}
}

func (d *evaluationDispatcher) now() time.Time { return d.Now().UTC() }

func (d *evaluationDispatcher) Dispatch(ctx context.Context, sessionID string) error {
	const op = "EvaluationDispatcher.Dispatch"

	return withLock(ctx, d.Locker, d.LockTimeout, lockKey(sessionID), op, func() error {
		sess, err := d.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return utils.E(utils.CodeNotFound, op, "session not found", err)
			}
			return utils.E(utils.CodeInternal, op, "failed to load session", err)
		}
		return d.DispatchHeld(ctx, sess)
	})
}

func (d *evaluationDispatcher) DispatchHeld(ctx context.Context, sess *models.InterviewSession) error {
	const op = "EvaluationDispatcher.DispatchHeld"

	switch sess.Status {
	case models.StatusEvaluating, models.StatusEvaluated:
		return nil
	}
	if err := checkTransition(op, sess.Status, models.StatusEvaluating); err != nil {
		return err
	}

	job, err := d.buildJob(ctx, sess)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to build evaluation job", err)
	}

	_, enqueueErr := d.enqueue(ctx, job)
	now := d.now()
	next := *sess
	next.DispatchAttempts++

	if enqueueErr != nil {
		metrics.DispatchAttempts.WithLabelValues("failed").Inc()
		next.LastDispatchError = enqueueErr.Error()
		stuck := next.DispatchStuckAt == nil && d.isStuck(&next, now)
		if stuck {
			next.DispatchStuckAt = &now
		}
		if err := d.Sessions.UpdateSession(ctx, &next); err != nil {
			d.Logger.WithError(err).WithField("session_id", sess.ID).Warn("failed to record dispatch failure")
		} else {
			*sess = next
		}
		d.Recorder.Event(ctx, sess.ID, models.EventDispatchFailed, enqueueErr.Error())
		if stuck {
			d.flagStuck(ctx, &next)
		}
		return utils.E(utils.CodeUnavailable, op, "evaluation queue unavailable", enqueueErr)
	}

	metrics.DispatchAttempts.WithLabelValues("ok").Inc()
	next.Status = models.StatusEvaluating
	next.EvaluationJobID = job.JobID
	next.EvaluatingAt = &now
	next.LastDispatchError = ""
	next.DispatchStuckAt = nil
	if err := d.Sessions.UpdateSession(ctx, &next); err != nil {
		// the job is already queued; its result is applied once a later dispatch lands
		if errors.Is(err, utils.ErrConflict) {
			return utils.E(utils.CodeConflict, op, "session changed concurrently", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to mark session evaluating", err)
	}
	*sess = next
	d.Recorder.Transition(ctx, sess, models.StatusCompleted, "job "+job.JobID)
	return nil
}

// isStuck is true once the session has waited StuckAfter since completion or
// used up its dispatch attempts.
func (d *evaluationDispatcher) isStuck(sess *models.InterviewSession, now time.Time) bool {
	if sess.DispatchAttempts >= d.Evaluation.MaxDispatchAttempts {
		return true
	}
	return sess.CompletedAt != nil && d.Evaluation.StuckAfter > 0 && now.Sub(*sess.CompletedAt) >= d.Evaluation.StuckAfter
}

func (d *evaluationDispatcher) flagStuck(ctx context.Context, sess *models.InterviewSession) {
	metrics.StuckDispatches.Inc()
	detail := fmt.Sprintf("evaluation dispatch stuck after %d attempts: %s", sess.DispatchAttempts, sess.LastDispatchError)
	d.Recorder.Event(ctx, sess.ID, models.EventDispatchStuck, detail)
	if err := d.Notifier.Notify(ctx, alerts.Alert{
		Kind:      alerts.KindDispatchStuck,
		SessionID: sess.ID,
		Detail:    detail,
		At:        d.now(),
	}); err != nil {
		d.Logger.WithError(err).WithField("session_id", sess.ID).Error("stuck dispatch alert failed")
	}
}

func (d *evaluationDispatcher) buildJob(ctx context.Context, sess *models.InterviewSession) (queue.EvaluationJob, error) {
	questions, err := d.Sessions.ListQuestions(ctx, sess.ID)
	if err != nil {
		return queue.EvaluationJob{}, err
	}
	answers, err := d.Sessions.ListAnswers(ctx, sess.ID)
	if err != nil {
		return queue.EvaluationJob{}, err
	}
	byQuestion := make(map[string]models.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	job := queue.EvaluationJob{
		JobID:         uuid.NewString(),
		SessionID:     sess.ID,
		ApplicationID: sess.ApplicationID,
		CandidateID:   sess.CandidateID,
		EnqueuedAt:    d.now(),
	}
	for _, q := range questions {
		a := byQuestion[q.ID]
		job.Answers = append(job.Answers, queue.JobAnswer{
			QuestionID:         q.ID,
			OrderNum:           q.OrderNum,
			Category:           q.Category,
			QuestionText:       q.QuestionText,
			MaxDurationSeconds: q.MaxDurationSeconds,
			Transcript:         a.Transcript,
			DurationSeconds:    a.DurationSeconds,
			Late:               a.Late,
		})
	}
	return job, nil
}

func (d *evaluationDispatcher) enqueue(ctx context.Context, job queue.EvaluationJob) (string, error) {
	var lastErr error
	for i := 0; i < d.Evaluation.EnqueueAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, backoff(d.Evaluation.RetryBackoff, i)); err != nil {
				return "", err
			}
		}
		id, err := d.Queue.Enqueue(ctx, job)
		if err == nil {
			return id, nil
		}
		lastErr = err
		d.Logger.WithError(err).WithFields(logrus.Fields{
			"session_id": job.SessionID,
			"attempt":    i + 1,
		}).Warn("evaluation enqueue failed")
	}
	return "", lastErr
}

func validScore(v *float64) bool {
	return v == nil || (*v >= models.MinScore && *v <= models.MaxScore)
}

func (d *evaluationDispatcher) ApplyResult(ctx context.Context, o queue.EvaluationOutcome) (*models.EvaluationResult, error) {
	const op = "EvaluationDispatcher.ApplyResult"

	if o.SessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	for _, v := range []*float64{o.OverallScore, o.TechnicalScore, o.CommunicationScore, o.ProblemSolvingScore} {
		if !validScore(v) {
			return nil, utils.E(utils.CodeInvalidArgument, op, "scores must be between 0 and 10", nil)
		}
	}

	var out *models.EvaluationResult
	err := withLock(ctx, d.Locker, d.LockTimeout, lockKey(o.SessionID), op, func() error {
		sess, err := d.Sessions.GetSession(ctx, o.SessionID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return utils.E(utils.CodeNotFound, op, "session not found", err)
			}
			return utils.E(utils.CodeInternal, op, "failed to load session", err)
		}

		if sess.Status == models.StatusEvaluated {
			out, err = d.existing(ctx, op, sess.ID)
			return err
		}
		if err := checkTransition(op, sess.Status, models.StatusEvaluated); err != nil {
			return err
		}

		now := d.now()
		res := &models.EvaluationResult{
			ID:                  uuid.NewString(),
			SessionID:           sess.ID,
			JobID:               o.JobID,
			OverallScore:        o.OverallScore,
			TechnicalScore:      o.TechnicalScore,
			CommunicationScore:  o.CommunicationScore,
			ProblemSolvingScore: o.ProblemSolvingScore,
			Summary:             o.Summary,
			Strengths:           o.Strengths,
			AreasForImprovement: o.AreasForImprovement,
			CreatedAt:           now,
		}
		if len(o.Raw) > 0 {
			res.RawOutput = []byte(o.Raw)
		}

		next := *sess
		next.Status = models.StatusEvaluated
		next.EvaluatedAt = &now
		if err := d.Sessions.SaveEvaluation(ctx, &next, res); err != nil {
			if errors.Is(err, utils.ErrDuplicate) {
				out, err = d.existing(ctx, op, sess.ID)
				return err
			}
			if errors.Is(err, utils.ErrConflict) {
				return utils.E(utils.CodeConflict, op, "session changed concurrently, retry", err)
			}
			return utils.E(utils.CodeInternal, op, "failed to save evaluation", err)
		}

		if sess.CompletedAt != nil {
			metrics.EvaluationLatency.Observe(now.Sub(*sess.CompletedAt).Seconds())
		}
		d.Recorder.Transition(ctx, &next, sess.Status, "job "+o.JobID)
		d.afterApply(ctx, res)
		out = res
		return nil
	})
	return out, err
}

func (d *evaluationDispatcher) existing(ctx context.Context, op, sessionID string) (*models.EvaluationResult, error) {
	res, err := d.Sessions.GetEvaluation(ctx, sessionID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load evaluation", err)
	}
	return res, nil
}

func (d *evaluationDispatcher) afterApply(ctx context.Context, res *models.EvaluationResult) {
	if d.Cache != nil {
		if err := d.Cache.SetJSON(ctx, cache.EvaluationKey(res.SessionID), res, d.Evaluation.CacheTTL); err != nil {
			d.Logger.WithError(err).WithField("session_id", res.SessionID).Warn("cache evaluation failed")
		}
	}
	if d.Results != nil {
		if err := d.Results.Delete(ctx, res.SessionID); err != nil {
			d.Logger.WithError(err).WithField("session_id", res.SessionID).Warn("drop stored result failed")
		}
	}
}

// RetryPending redispatches sessions left completed by a failed enqueue.
func (d *evaluationDispatcher) RetryPending(ctx context.Context, limit int) (int, error) {
	const op = "EvaluationDispatcher.RetryPending"

	settled := d.now().Add(-d.Evaluation.SettleDelay)
	pending, err := d.Sessions.ListSessions(ctx, pgrepo.SessionFilter{
		Statuses:        []models.SessionStatus{models.StatusCompleted},
		CompletedBefore: &settled,
		Limit:           limit,
	})
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list completed sessions", err)
	}

	dispatched := 0
	for _, sess := range pending {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if sess.DispatchAttempts >= d.Evaluation.MaxDispatchAttempts {
			continue
		}
		if err := d.Dispatch(ctx, sess.ID); err != nil {
			d.Logger.WithError(err).WithField("session_id", sess.ID).Warn("dispatch retry failed")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// ApplyStoredResults applies results the worker stored but could not deliver.
func (d *evaluationDispatcher) ApplyStoredResults(ctx context.Context, limit int) (int, error) {
	const op = "EvaluationDispatcher.ApplyStoredResults"

	if d.Results == nil {
		return 0, nil
	}
	waiting, err := d.Sessions.ListSessions(ctx, pgrepo.SessionFilter{
		Statuses: []models.SessionStatus{models.StatusEvaluating},
		Limit:    limit,
	})
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list evaluating sessions", err)
	}

	applied := 0
	for _, sess := range waiting {
		o, ok, err := d.Results.Get(ctx, sess.ID)
		if err != nil {
			return applied, utils.E(utils.CodeUnavailable, op, "result store unavailable", err)
		}
		if !ok {
			continue
		}
		if _, err := d.ApplyResult(ctx, *o); err != nil {
			d.Logger.WithError(err).WithField("session_id", sess.ID).Warn("stored result not applied")
			continue
		}
		applied++
	}
	return applied, nil
}

// FlagOverdue marks sessions evaluating for longer than the evaluation timeout.
// Each session is flagged and alerted once.
func (d *evaluationDispatcher) FlagOverdue(ctx context.Context, limit int) (int, error) {
	const op = "EvaluationDispatcher.FlagOverdue"

	since := d.now().Add(-d.Evaluation.Timeout)
	late, err := d.Sessions.ListSessions(ctx, pgrepo.SessionFilter{
		Statuses:        []models.SessionStatus{models.StatusEvaluating},
		EvaluatingSince: &since,
		Limit:           limit,
	})
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list evaluating sessions", err)
	}

	flagged := 0
	for _, cand := range late {
		if cand.EvaluationOverdueAt != nil {
			continue
		}
		err := withLock(ctx, d.Locker, d.LockTimeout, lockKey(cand.ID), op, func() error {
			sess, err := d.Sessions.GetSession(ctx, cand.ID)
			if err != nil {
				return err
			}
			if sess.Status != models.StatusEvaluating || sess.EvaluationOverdueAt != nil {
				return nil
			}
			now := d.now()
			next := *sess
			next.EvaluationOverdueAt = &now
			if err := d.Sessions.UpdateSession(ctx, &next); err != nil {
				return err
			}

			detail := fmt.Sprintf("evaluation job %s running since %s", sess.EvaluationJobID, sess.EvaluatingAt.Format(time.RFC3339))
			d.Recorder.Event(ctx, sess.ID, models.EventEvaluationLate, detail)
			if err := d.Notifier.Notify(ctx, alerts.Alert{
				Kind:      alerts.KindEvaluationOverdue,
				SessionID: sess.ID,
				Detail:    detail,
				At:        now,
			}); err != nil {
				d.Logger.WithError(err).WithField("session_id", sess.ID).Error("overdue alert failed")
			}
			flagged++
			return nil
		})
		if err != nil {
			d.Logger.WithError(err).WithField("session_id", cand.ID).Warn("overdue flag skipped")
		}
	}
	return flagged, nil
}

func (d *evaluationDispatcher) ListStuck(ctx context.Context, limit int) ([]models.InterviewSession, error) {
	const op = "EvaluationDispatcher.ListStuck"

	stuck := true
	out, err := d.Sessions.ListSessions(ctx, pgrepo.SessionFilter{
		Statuses:      []models.SessionStatus{models.StatusCompleted},
		DispatchStuck: &stuck,
		Limit:         limit,
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list stuck sessions", err)
	}
	return out, nil
}
