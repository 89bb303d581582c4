package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/locks"
	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/room"
	"github.com/yoockh/yoointerview/internal/questionbank"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/utils"
)

// InterviewService drives one interview attempt from scheduling to completion.
// Every mutation runs under the per-session lock and is additionally version checked.
type InterviewService interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (*models.InterviewSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	LoadSession(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	AdmitAudioChunk(ctx context.Context, sessionID, questionID string) error
	ListQuestions(ctx context.Context, sessionID string) ([]QuestionView, error)
	BeginSession(ctx context.Context, sessionID string) (*room.Handle, error)
	SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (*SubmitResult, error)
	AbandonSession(ctx context.Context, sessionID, reason string) (*models.InterviewSession, error)
	AbandonByApplication(ctx context.Context, applicationID, reason string) (*models.InterviewSession, error)
	SweepExpired(ctx context.Context, limit int) (int, error)
}

type CreateSessionInput struct {
	ApplicationID string                  `json:"application_id" validate:"required,uuid"`
	Questions     []questionbank.Question `json:"questions" validate:"omitempty,max=50,dive"`
}

// QuestionView is a frozen question plus whether it is the one being answered now.
type QuestionView struct {
	models.InterviewQuestion
	IsCurrent bool `json:"is_current"`
}

type InterviewDeps struct {
	Sessions     pgrepo.InterviewRepository
	Applications pgrepo.ApplicationRepository
	Rooms        room.Provider
	Locker       locks.Locker
	Dispatcher   EvaluationDispatcher
	Buffers      BufferService
	Bank         *questionbank.Bank
	Recorder     *Recorder
	Logger       *logrus.Logger

	Interview config.InterviewSettings
	Room      config.RoomSettings

	Now func() time.Time
}

type interviewService struct {
	InterviewDeps
	validate *validator.Validate
}

func NewInterviewService(d InterviewDeps) InterviewService {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Room.AcquireAttempts <= 0 {
		d.Room.AcquireAttempts = 1
	}
	return &interviewService{InterviewDeps: d, validate: validator.New()}
}

func (s *interviewService) now() time.Time { return s.Now().UTC() }

func lockKey(sessionID string) string { return "session:" + sessionID }

// withLock runs fn holding the session lock. Waiting longer than the lock
// timeout is reported as UNAVAILABLE so the client can retry.
func withLock(ctx context.Context, l locks.Locker, timeout time.Duration, key, op string, fn func() error) error {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	unlock, err := l.Lock(lockCtx, key)
	if err != nil {
		if ctx.Err() != nil {
			return utils.E(utils.CodeTimeout, op, "request cancelled while waiting for session", ctx.Err())
		}
		return utils.E(utils.CodeUnavailable, op, "session is busy, retry", err)
	}
	defer unlock()
	return fn()
}

func (s *interviewService) load(ctx context.Context, op, sessionID string) (*models.InterviewSession, error) {
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	sess, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load session", err)
	}
	return sess, nil
}

func (s *interviewService) CreateSession(ctx context.Context, in CreateSessionInput) (*models.InterviewSession, error) {
	const op = "InterviewService.CreateSession"

	if err := s.validate.Struct(in); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	app, err := s.Applications.GetByID(ctx, in.ApplicationID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeInvalidApplication, op, "application not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load application", err)
	}
	if !app.EligibleForInterview(s.now()) {
		return nil, utils.E(utils.CodeInvalidApplication, op, "application has no eligible interview slot", nil)
	}

	questions := in.Questions
	if len(questions) == 0 && s.Bank != nil {
		questions = s.Bank.For(app.Position)
	}
	if len(questions) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "at least one question is required", nil)
	}

	var out *models.InterviewSession
	err = withLock(ctx, s.Locker, s.Interview.LockTimeout, "application:"+app.ID, op, func() error {
		existing, err := s.Sessions.FindActiveByApplication(ctx, app.ID)
		if err == nil {
			return utils.E(utils.CodeDuplicateSession, op, "an active session already exists for this application: "+existing.ID, nil)
		}
		if !errors.Is(err, utils.ErrNotFound) {
			return utils.E(utils.CodeInternal, op, "failed to check active sessions", err)
		}

		now := s.now()
		sess := &models.InterviewSession{
			ID:             uuid.NewString(),
			ApplicationID:  app.ID,
			CandidateID:    app.CandidateID,
			Status:         models.StatusScheduled,
			TotalQuestions: len(questions),
			ScheduledFor:   app.SlotStartsAt.UTC(),
			LastContactAt:  now,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		rows := make([]models.InterviewQuestion, len(questions))
		for i, q := range questions {
			rows[i] = models.InterviewQuestion{
				ID:                 uuid.NewString(),
				SessionID:          sess.ID,
				OrderNum:           i + 1,
				Category:           q.Category,
				QuestionText:       q.Text,
				MaxDurationSeconds: q.MaxDurationSeconds,
				CreatedAt:          now,
			}
		}

		if err := s.Sessions.CreateSession(ctx, sess, rows); err != nil {
			if errors.Is(err, utils.ErrDuplicate) {
				return utils.E(utils.CodeDuplicateSession, op, "session already exists", err)
			}
			return utils.E(utils.CodeInternal, op, "failed to create session", err)
		}
		s.Recorder.Transition(ctx, sess, "", "scheduled")
		out = sess
		return nil
	})
	return out, err
}

// checkTransition refuses a status write the session state machine does not allow.
func checkTransition(op string, from, to models.SessionStatus) error {
	if from.CanTransitionTo(to) {
		return nil
	}
	return utils.E(utils.CodeConflict, op, fmt.Sprintf("illegal status change %s -> %s", from, to), nil)
}

// answerDeadline is when the limit for q runs out if it is asked at start.
func (s *interviewService) answerDeadline(start time.Time, q models.InterviewQuestion) *time.Time {
	d := start.Add(time.Duration(q.MaxDurationSeconds)*time.Second + s.Interview.AnswerGrace)
	return &d
}

// LoadSession returns a snapshot without counting as client contact.
func (s *interviewService) LoadSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	return s.load(ctx, "InterviewService.LoadSession", sessionID)
}

// GetSession returns a snapshot. For an in-progress session it also counts as
// client contact, unless the inactivity deadline has already passed.
func (s *interviewService) GetSession(ctx context.Context, sessionID string) (*models.InterviewSession, error) {
	const op = "InterviewService.GetSession"

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusInProgress && !s.overdue(sess) {
		now := s.now()
		if err := s.Sessions.TouchContact(ctx, sess.ID, now); err != nil {
			s.Logger.WithError(err).WithField("session_id", sess.ID).Warn("touch contact failed")
		} else {
			sess.LastContactAt = now
		}
	}
	return sess, nil
}

func (s *interviewService) ListQuestions(ctx context.Context, sessionID string) ([]QuestionView, error) {
	const op = "InterviewService.ListQuestions"

	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	qs, err := s.Sessions.ListQuestions(ctx, sess.ID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list questions", err)
	}

	out := make([]QuestionView, len(qs))
	for i, q := range qs {
		out[i] = QuestionView{InterviewQuestion: q, IsCurrent: isCurrent(sess, q)}
	}
	return out, nil
}

func isCurrent(sess *models.InterviewSession, q models.InterviewQuestion) bool {
	switch sess.Status {
	case models.StatusScheduled, models.StatusReady, models.StatusInProgress:
		return q.OrderNum == sess.CurrentQuestionIndex+1
	}
	return false
}

func (s *interviewService) BeginSession(ctx context.Context, sessionID string) (*room.Handle, error) {
	const op = "InterviewService.BeginSession"

	var out *room.Handle
	err := withLock(ctx, s.Locker, s.Interview.LockTimeout, lockKey(sessionID), op, func() error {
		sess, err := s.load(ctx, op, sessionID)
		if err != nil {
			return err
		}
		if s.overdue(sess) {
			return s.expire(ctx, op, sess, "begin timeout elapsed")
		}

		switch sess.Status {
		case models.StatusInProgress:
			out = s.handleOf(sess)
			return nil
		case models.StatusCompleted, models.StatusEvaluating, models.StatusEvaluated:
			return utils.E(utils.CodeAlreadyCompleted, op, "session already completed", nil)
		case models.StatusExpired:
			return utils.E(utils.CodeSessionExpired, op, "session expired", nil)
		case models.StatusAbandoned:
			return utils.E(utils.CodeSessionAbandoned, op, "session was abandoned", nil)
		}
		if err := checkTransition(op, sess.Status, models.StatusInProgress); err != nil {
			return err
		}

		questions, err := s.Sessions.ListQuestions(ctx, sess.ID)
		if err != nil {
			return utils.E(utils.CodeInternal, op, "failed to list questions", err)
		}
		if sess.CurrentQuestionIndex >= len(questions) {
			return utils.E(utils.CodeInternal, op, "question pointer out of range", nil)
		}

		h, err := s.acquireRoom(ctx, sess.ID)
		if err != nil {
			metrics.RoomAcquisitions.WithLabelValues("failed").Inc()
			return utils.E(utils.CodeRoomUnavailable, op, "could not start the interview room, retry", err)
		}
		metrics.RoomAcquisitions.WithLabelValues("ok").Inc()

		now := s.now()
		expires := h.ExpiresAt.UTC()
		next := *sess
		next.Status = models.StatusInProgress
		next.RoomName = h.Name
		next.RoomURL = h.URL
		next.RoomToken = h.Token
		next.RoomExpiresAt = &expires
		next.StartedAt = &now
		next.LastContactAt = now
		next.CurrentQuestionStartedAt = &now
		next.AnswerDeadlineAt = s.answerDeadline(now, questions[sess.CurrentQuestionIndex])

		if err := s.Sessions.UpdateSession(ctx, &next); err != nil {
			s.releaseRoom(ctx, sess.ID, h.Name)
			if errors.Is(err, utils.ErrConflict) {
				// a writer outside the lock (expired lease) won; report what it did
				cur, lerr := s.load(ctx, op, sessionID)
				if lerr == nil && cur.Status == models.StatusInProgress {
					out = s.handleOf(cur)
					return nil
				}
				return utils.E(utils.CodeConflict, op, "session changed concurrently, retry", err)
			}
			return utils.E(utils.CodeInternal, op, "failed to start session", err)
		}

		s.Recorder.Transition(ctx, &next, sess.Status, "room "+h.Name)
		out = h
		return nil
	})
	return out, err
}

func (s *interviewService) handleOf(sess *models.InterviewSession) *room.Handle {
	h := &room.Handle{
		Name:       sess.RoomName,
		URL:        sess.RoomURL,
		Token:      sess.RoomToken,
		ICEServers: s.Rooms.ICEServers(),
	}
	if sess.RoomExpiresAt != nil {
		h.ExpiresAt = *sess.RoomExpiresAt
	}
	return h
}

func (s *interviewService) acquireRoom(ctx context.Context, sessionID string) (*room.Handle, error) {
	var lastErr error
	for i := 0; i < s.Room.AcquireAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, backoff(s.Room.RetryBackoff, i)); err != nil {
				return nil, err
			}
		}
		h, err := s.Rooms.Acquire(ctx, sessionID)
		if err == nil {
			return h, nil
		}
		lastErr = err
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"attempt":    i + 1,
		}).Warn("room acquisition failed")
	}
	return nil, lastErr
}

func (s *interviewService) releaseRoom(ctx context.Context, sessionID, name string) {
	if name == "" {
		return
	}
	if err := s.Rooms.Release(ctx, name); err != nil {
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"room":       name,
		}).Warn("room release failed")
		s.Recorder.Event(ctx, sessionID, models.EventRoomReleaseError, err.Error())
	}
}

// overdue reports whether the session has passed its inactivity or begin
// deadline. An in-progress session is never idle while the current question's
// time limit is still running.
func (s *interviewService) overdue(sess *models.InterviewSession) bool {
	now := s.now()
	switch sess.Status {
	case models.StatusInProgress:
		if s.Interview.InactivityTimeout <= 0 {
			return false
		}
		deadline := sess.LastContactAt.Add(s.Interview.InactivityTimeout)
		if sess.AnswerDeadlineAt != nil && sess.AnswerDeadlineAt.After(deadline) {
			deadline = *sess.AnswerDeadlineAt
		}
		return now.After(deadline)
	case models.StatusScheduled, models.StatusReady:
		return s.Interview.BeginTimeout > 0 && now.After(sess.BeginFrom().Add(s.Interview.BeginTimeout))
	}
	return false
}

// expire moves sess to expired and always returns the SESSION_EXPIRED error
// for the caller to surface, unless the write itself failed.
func (s *interviewService) expire(ctx context.Context, op string, sess *models.InterviewSession, reason string) error {
	if err := s.terminate(ctx, sess, models.StatusExpired, reason); err != nil {
		if utils.IsCode(err, utils.CodeConflict) {
			return err
		}
		if errors.Is(err, utils.ErrConflict) {
			return utils.E(utils.CodeConflict, op, "session changed concurrently, retry", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to expire session", err)
	}
	return utils.E(utils.CodeSessionExpired, op, "session expired", nil)
}

// terminate writes a terminal status, then releases the room.
func (s *interviewService) terminate(ctx context.Context, sess *models.InterviewSession, to models.SessionStatus, reason string) error {
	from := sess.Status
	if err := checkTransition("InterviewService.terminate", from, to); err != nil {
		return err
	}
	roomName := sess.RoomName
	hadRoom := sess.HasRoom()

	next := *sess
	next.Status = to
	next.EndedReason = reason
	next.CurrentQuestionStartedAt = nil
	next.AnswerDeadlineAt = nil
	next.ClearRoom()
	if err := s.Sessions.UpdateSession(ctx, &next); err != nil {
		return err
	}
	*sess = next

	if hadRoom {
		s.releaseRoom(ctx, sess.ID, roomName)
	}
	s.Recorder.Transition(ctx, sess, from, reason)
	return nil
}

func (s *interviewService) AbandonSession(ctx context.Context, sessionID, reason string) (*models.InterviewSession, error) {
	const op = "InterviewService.AbandonSession"

	if reason == "" {
		reason = "abandoned"
	}
	var out *models.InterviewSession
	err := withLock(ctx, s.Locker, s.Interview.LockTimeout, lockKey(sessionID), op, func() error {
		sess, err := s.load(ctx, op, sessionID)
		if err != nil {
			return err
		}
		switch sess.Status {
		case models.StatusAbandoned:
			out = sess
			return nil
		case models.StatusExpired:
			return utils.E(utils.CodeSessionExpired, op, "session already expired", nil)
		case models.StatusEvaluated:
			return utils.E(utils.CodeAlreadyCompleted, op, "session already evaluated", nil)
		}

		if err := s.terminate(ctx, sess, models.StatusAbandoned, reason); err != nil {
			if utils.IsCode(err, utils.CodeConflict) {
				return err
			}
			if errors.Is(err, utils.ErrConflict) {
				return utils.E(utils.CodeConflict, op, "session changed concurrently, retry", err)
			}
			return utils.E(utils.CodeInternal, op, "failed to abandon session", err)
		}
		out = sess
		return nil
	})
	return out, err
}

// AbandonByApplication handles a withdrawn application: the application is
// marked withdrawn and its active session, if any, is abandoned. A nil session
// with a nil error means there was nothing to abandon.
func (s *interviewService) AbandonByApplication(ctx context.Context, applicationID, reason string) (*models.InterviewSession, error) {
	const op = "InterviewService.AbandonByApplication"

	if applicationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "application_id is required", nil)
	}
	if reason == "" {
		reason = "application withdrawn"
	}

	if err := s.Applications.SetStatus(ctx, applicationID, models.ApplicationWithdrawn); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to mark application withdrawn", err)
	}

	sess, err := s.Sessions.FindActiveByApplication(ctx, applicationID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to find active session", err)
	}
	return s.AbandonSession(ctx, sess.ID, reason)
}

// SweepExpired expires in-progress sessions past both the inactivity timeout
// and the current answer deadline, and scheduled sessions past the begin timeout. It returns how many it expired.
func (s *interviewService) SweepExpired(ctx context.Context, limit int) (int, error) {
	const op = "InterviewService.SweepExpired"

	now := s.now()
	contactBefore := now.Add(-s.Interview.InactivityTimeout)
	beginBefore := now.Add(-s.Interview.BeginTimeout)

	idle, err := s.Sessions.ListSessions(ctx, pgrepo.SessionFilter{
		Statuses:             []models.SessionStatus{models.StatusInProgress},
		ContactBefore:        &contactBefore,
		AnswerDeadlineBefore: &now,
		Limit:                limit,
	})
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list idle sessions", err)
	}
	unstarted, err := s.Sessions.ListSessions(ctx, pgrepo.SessionFilter{
		Statuses:        []models.SessionStatus{models.StatusScheduled, models.StatusReady},
		ScheduledBefore: &beginBefore,
		CreatedBefore:   &beginBefore,
		Limit:           limit,
	})
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to list unstarted sessions", err)
	}

	expired := 0
	for _, cand := range append(idle, unstarted...) {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		err := withLock(ctx, s.Locker, s.Interview.LockTimeout, lockKey(cand.ID), op, func() error {
			sess, err := s.load(ctx, op, cand.ID)
			if err != nil {
				return err
			}
			// re-check under the lock; a submit may have refreshed contact
			if !s.overdue(sess) {
				return nil
			}
			reason := "inactivity timeout"
			if sess.Status != models.StatusInProgress {
				reason = "begin timeout elapsed"
			}
			if err := s.terminate(ctx, sess, models.StatusExpired, reason); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			s.Logger.WithError(err).WithField("session_id", cand.ID).Warn("expiry sweep skipped session")
		}
	}
	return expired, nil
}

// AdmitAudioChunk checks that streamed audio is for the question being answered
// in a live session. An admitted chunk counts as client contact.
func (s *interviewService) AdmitAudioChunk(ctx context.Context, sessionID, questionID string) error {
	const op = "InterviewService.AdmitAudioChunk"

	if questionID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "question_id is required", nil)
	}
	sess, err := s.load(ctx, op, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == models.StatusInProgress && s.overdue(sess) {
		err := withLock(ctx, s.Locker, s.Interview.LockTimeout, lockKey(sessionID), op, func() error {
			cur, err := s.load(ctx, op, sessionID)
			if err != nil {
				return err
			}
			if cur.Status == models.StatusInProgress && s.overdue(cur) {
				return s.expire(ctx, op, cur, "inactivity timeout")
			}
			sess = cur
			return nil
		})
		if err != nil {
			return err
		}
	}

	switch sess.Status {
	case models.StatusInProgress:
	case models.StatusExpired:
		return utils.E(utils.CodeSessionExpired, op, "session expired", nil)
	case models.StatusAbandoned:
		return utils.E(utils.CodeSessionAbandoned, op, "session was abandoned", nil)
	case models.StatusScheduled, models.StatusReady:
		return utils.E(utils.CodeSessionNotActive, op, "session has not begun", nil)
	default:
		return utils.E(utils.CodeAlreadyCompleted, op, "all questions already answered", nil)
	}

	questions, err := s.Sessions.ListQuestions(ctx, sess.ID)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to list questions", err)
	}
	if sess.CurrentQuestionIndex >= len(questions) || questions[sess.CurrentQuestionIndex].ID != questionID {
		return utils.E(utils.CodeStaleQuestion, op, "audio is not for the current question", nil)
	}

	if err := s.Sessions.TouchContact(ctx, sess.ID, s.now()); err != nil {
		s.Logger.WithError(err).WithField("session_id", sess.ID).Warn("touch contact failed")
	}
	return nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return base << (attempt - 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
