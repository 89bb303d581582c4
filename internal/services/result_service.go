package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/models"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/utils"
)

// ResultView is one poll of the results endpoint. Result is only set once the
// session is evaluated; RetryAfterSeconds is set while scoring is pending.
type ResultView struct {
	SessionID         string                   `json:"session_id"`
	Status            models.SessionStatus     `json:"status"`
	Result            *models.EvaluationResult `json:"result,omitempty"`
	RetryAfterSeconds int                      `json:"retry_after_seconds,omitempty"`
	DispatchStuck     bool                     `json:"dispatch_stuck,omitempty"`
}

func (v *ResultView) Pending() bool {
	return v.Status == models.StatusCompleted || v.Status == models.StatusEvaluating
}

type ResultService interface {
	GetResults(ctx context.Context, sessionID string) (*ResultView, error)
}

type resultService struct {
	sessions     pgrepo.InterviewRepository
	cache        cache.Cache
	cacheTTL     time.Duration
	pollInterval time.Duration
	logger       *logrus.Logger
}

func NewResultService(sessions pgrepo.InterviewRepository, c cache.Cache, cacheTTL, pollInterval time.Duration, logger *logrus.Logger) ResultService {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &resultService{sessions: sessions, cache: c, cacheTTL: cacheTTL, pollInterval: pollInterval, logger: logger}
}

// GetResults never mutates the session, so polling is safe at any rate and
// can be abandoned by the caller at any point.
func (s *resultService) GetResults(ctx context.Context, sessionID string) (*ResultView, error) {
	const op = "ResultService.GetResults"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	if s.cache != nil {
		var cached models.EvaluationResult
		hit, err := s.cache.GetJSON(ctx, cache.EvaluationKey(sessionID), &cached)
		if err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("result cache read failed")
		}
		if hit {
			return &ResultView{SessionID: sessionID, Status: models.StatusEvaluated, Result: &cached}, nil
		}
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load session", err)
	}

	view := &ResultView{SessionID: sess.ID, Status: sess.Status}
	switch sess.Status {
	case models.StatusCompleted, models.StatusEvaluating:
		view.RetryAfterSeconds = int(s.pollInterval / time.Second)
		if view.RetryAfterSeconds < 1 {
			view.RetryAfterSeconds = 1
		}
		view.DispatchStuck = sess.DispatchStuckAt != nil
	case models.StatusEvaluated:
		res, err := s.sessions.GetEvaluation(ctx, sess.ID)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to load evaluation", err)
		}
		view.Result = res
		if s.cache != nil {
			if err := s.cache.SetJSON(ctx, cache.EvaluationKey(sess.ID), res, s.cacheTTL); err != nil {
				s.logger.WithError(err).WithField("session_id", sess.ID).Warn("result cache write failed")
			}
		}
	}
	return view, nil
}
