package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
)

type SubmitAnswerInput struct {
	SessionID       string `json:"-"`
	QuestionID      string `json:"question_id" binding:"required"`
	Transcript      string `json:"transcript"`
	DurationSeconds int    `json:"duration_seconds" binding:"min=0"`
}

// SubmitResult is the answer to a submission. NextQuestion is nil once the
// session is complete. Replays of an already recorded answer get the same
// result as the original call.
type SubmitResult struct {
	Completed    bool          `json:"completed"`
	NextQuestion *QuestionView `json:"next_question"`
	Replayed     bool          `json:"-"`
}

func (s *interviewService) SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (*SubmitResult, error) {
	const op = "InterviewService.SubmitAnswer"

	if in.SessionID == "" || in.QuestionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id and question_id are required", nil)
	}
	if in.DurationSeconds < 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "duration_seconds must not be negative", nil)
	}

	var out *SubmitResult
	err := withLock(ctx, s.Locker, s.Interview.LockTimeout, lockKey(in.SessionID), op, func() error {
		sess, err := s.load(ctx, op, in.SessionID)
		if err != nil {
			return err
		}

		switch sess.Status {
		case models.StatusExpired:
			return utils.E(utils.CodeSessionExpired, op, "session expired", nil)
		case models.StatusAbandoned:
			return utils.E(utils.CodeSessionAbandoned, op, "session was abandoned", nil)
		case models.StatusScheduled, models.StatusReady:
			return utils.E(utils.CodeSessionNotActive, op, "session has not begun", nil)
		}
		if s.overdue(sess) {
			return s.expire(ctx, op, sess, "inactivity timeout")
		}

		questions, err := s.Sessions.ListQuestions(ctx, sess.ID)
		if err != nil {
			return utils.E(utils.CodeInternal, op, "failed to list questions", err)
		}

		if res, ok, err := s.replay(ctx, op, sess, questions, in.QuestionID); err != nil || ok {
			out = res
			return err
		}

		if sess.Status.PastCompletion() {
			return utils.E(utils.CodeAlreadyCompleted, op, "all questions already answered", nil)
		}
		if sess.CurrentQuestionIndex >= len(questions) {
			return utils.E(utils.CodeInternal, op, "question pointer out of range", nil)
		}
		cur := questions[sess.CurrentQuestionIndex]
		if cur.ID != in.QuestionID {
			metrics.Answers.WithLabelValues("stale").Inc()
			return utils.E(utils.CodeStaleQuestion, op, "question is not the current question", nil)
		}

		res, err := s.record(ctx, op, sess, questions, cur, in)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// replay answers a retried submission from the stored answer. ok is false when
// no answer exists for the question yet.
func (s *interviewService) replay(ctx context.Context, op string, sess *models.InterviewSession, questions []models.InterviewQuestion, questionID string) (*SubmitResult, bool, error) {
	prev, err := s.Sessions.GetAnswer(ctx, sess.ID, questionID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, utils.E(utils.CodeInternal, op, "failed to look up answer", err)
	}

	metrics.Answers.WithLabelValues("duplicate").Inc()
	s.Recorder.Event(ctx, sess.ID, models.EventDuplicateAnswer, questionID)
	s.Logger.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"question_id": questionID,
	}).Debug("duplicate answer absorbed")

	if sess.Status == models.StatusInProgress {
		if err := s.Sessions.TouchContact(ctx, sess.ID, s.now()); err != nil {
			s.Logger.WithError(err).WithField("session_id", sess.ID).Warn("touch contact failed")
		}
	}
	return resultAfter(questions, prev.OrderNum, true), true, nil
}

func resultAfter(questions []models.InterviewQuestion, orderNum int, replayed bool) *SubmitResult {
	for _, q := range questions {
		if q.OrderNum == orderNum+1 {
			return &SubmitResult{NextQuestion: &QuestionView{InterviewQuestion: q, IsCurrent: true}, Replayed: replayed}
		}
	}
	return &SubmitResult{Completed: true, Replayed: replayed}
}

func (s *interviewService) record(ctx context.Context, op string, sess *models.InterviewSession, questions []models.InterviewQuestion, cur models.InterviewQuestion, in SubmitAnswerInput) (*SubmitResult, error) {
	now := s.now()
	completing := sess.CurrentQuestionIndex+1 >= sess.TotalQuestions
	if completing {
		if err := checkTransition(op, sess.Status, models.StatusCompleted); err != nil {
			return nil, err
		}
	} else if sess.Status != models.StatusInProgress {
		return nil, utils.E(utils.CodeConflict, op, "answers are only taken while in progress: "+string(sess.Status), nil)
	}

	limit := cur.MaxDurationSeconds + int(s.Interview.AnswerGrace/time.Second)
	duration := in.DurationSeconds
	if duration > limit {
		duration = limit
	}
	late := false
	if sess.CurrentQuestionStartedAt != nil {
		allowed := time.Duration(cur.MaxDurationSeconds)*time.Second + s.Interview.AnswerGrace
		late = now.Sub(*sess.CurrentQuestionStartedAt) > allowed
	}

	transcript := strings.TrimSpace(in.Transcript)
	if transcript == "" && s.Buffers != nil {
		assembled, err := s.Buffers.AssembleTranscript(ctx, sess.ID, cur.ID)
		if err != nil {
			s.Logger.WithError(err).WithField("session_id", sess.ID).Warn("assemble transcript failed")
		}
		transcript = assembled
	}

	answer := &models.Answer{
		ID:                      uuid.NewString(),
		SessionID:               sess.ID,
		QuestionID:              cur.ID,
		OrderNum:                cur.OrderNum,
		Transcript:              transcript,
		DurationSeconds:         duration,
		ReportedDurationSeconds: in.DurationSeconds,
		Late:                    late,
		SubmittedAt:             now,
	}

	next := *sess
	next.CurrentQuestionIndex++
	next.LastContactAt = now
	if completing {
		next.Status = models.StatusCompleted
		next.CompletedAt = &now
		next.CurrentQuestionStartedAt = nil
		next.AnswerDeadlineAt = nil
		next.ClearRoom()
	} else {
		next.CurrentQuestionStartedAt = &now
		if next.CurrentQuestionIndex < len(questions) {
			next.AnswerDeadlineAt = s.answerDeadline(now, questions[next.CurrentQuestionIndex])
		}
	}

	if err := s.Sessions.RecordAnswer(ctx, &next, answer); err != nil {
		if errors.Is(err, utils.ErrDuplicate) || errors.Is(err, utils.ErrConflict) {
			// lost a race with a writer outside the lock
			if res, ok, rerr := s.replay(ctx, op, sess, questions, cur.ID); rerr == nil && ok {
				return res, nil
			}
			return nil, utils.E(utils.CodeConflict, op, "session changed concurrently, retry", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to record answer", err)
	}

	metrics.Answers.WithLabelValues("recorded").Inc()
	if late {
		metrics.Answers.WithLabelValues("late").Inc()
	}
	s.Logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"order_num":  cur.OrderNum,
		"late":       late,
	}).Info("answer recorded")

	if !completing {
		return resultAfter(questions, cur.OrderNum, false), nil
	}

	if sess.HasRoom() {
		s.releaseRoom(ctx, sess.ID, sess.RoomName)
	}
	s.Recorder.Transition(ctx, &next, sess.Status, "last answer recorded")

	if s.Dispatcher != nil {
		// a failed dispatch leaves the session completed for the reconciler
		if err := s.Dispatcher.DispatchHeld(ctx, &next); err != nil {
			s.Logger.WithError(err).WithField("session_id", sess.ID).Warn("evaluation dispatch deferred")
		}
	}
	return &SubmitResult{Completed: true}, nil
}
