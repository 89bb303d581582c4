package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
)

// StatusChannel is the pub/sub channel carrying a session's status changes.
func StatusChannel(sessionID string) string { return "session:" + sessionID + ":status" }

// Recorder writes the audit trail and fans out status changes. Every field is
// optional; failures are logged and never fail the caller.
type Recorder struct {
	Events mongorepo.EventRepository
	Redis  *redis.Client
	Logger *logrus.Logger
}

func (r *Recorder) log() *logrus.Logger {
	if r == nil || r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

func (r *Recorder) Transition(ctx context.Context, s *models.InterviewSession, from models.SessionStatus, detail string) {
	metrics.SessionTransitions.WithLabelValues(string(s.Status)).Inc()
	r.log().WithFields(logrus.Fields{
		"session_id": s.ID,
		"from":       from,
		"to":         s.Status,
	}).Info("session transition")

	r.append(ctx, &models.SessionEvent{
		SessionID:  s.ID,
		Type:       models.EventTransition,
		FromStatus: from,
		ToStatus:   s.Status,
		Detail:     detail,
	})

	if r == nil || r.Redis == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"type":                   "status",
		"status":                 s.Status,
		"current_question_index": s.CurrentQuestionIndex,
		"total_questions":        s.TotalQuestions,
		"at":                     time.Now().UTC(),
	})
	if err := r.Redis.Publish(ctx, StatusChannel(s.ID), payload).Err(); err != nil {
		r.log().WithError(err).WithField("session_id", s.ID).Warn("status publish failed")
	}
}

func (r *Recorder) Event(ctx context.Context, sessionID, typ, detail string) {
	r.append(ctx, &models.SessionEvent{SessionID: sessionID, Type: typ, Detail: detail})
}

func (r *Recorder) append(ctx context.Context, e *models.SessionEvent) {
	if r == nil || r.Events == nil {
		return
	}
	if err := r.Events.Append(ctx, e); err != nil {
		r.log().WithError(err).WithFields(logrus.Fields{
			"session_id": e.SessionID,
			"event":      e.Type,
		}).Warn("session event append failed")
	}
}
