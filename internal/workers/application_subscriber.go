package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/models"
)

const WithdrawnChannel = "application:withdrawn"

// Abandoner is the slice of the interview service the subscriber drives.
type Abandoner interface {
	AbandonByApplication(ctx context.Context, applicationID, reason string) (*models.InterviewSession, error)
}

// ApplicationSubscriber abandons the live interview of an application that
// was withdrawn upstream.
type ApplicationSubscriber struct {
	Redis    *redis.Client
	Sessions Abandoner
	Channel  string
	Logger   *logrus.Logger
}

type withdrawnMessage struct {
	ApplicationID string `json:"application_id"`
	Reason        string `json:"reason"`
}

// parseWithdrawn accepts either a JSON object or a bare application id.
func parseWithdrawn(payload string) (withdrawnMessage, bool) {
	payload = strings.TrimSpace(payload)
	var m withdrawnMessage
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return m, false
		}
	} else {
		m.ApplicationID = payload
	}
	m.ApplicationID = strings.TrimSpace(m.ApplicationID)
	if m.Reason == "" {
		m.Reason = "application withdrawn"
	}
	return m, m.ApplicationID != ""
}

// Start subscribes and returns once the subscription is confirmed.
func (s *ApplicationSubscriber) Start(ctx context.Context) error {
	if s.Redis == nil || s.Sessions == nil {
		return errors.New("ApplicationSubscriber missing dependency: Redis/Sessions must be set")
	}
	if s.Channel == "" {
		s.Channel = WithdrawnChannel
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
	}

	sub := s.Redis.Subscribe(ctx, s.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (s *ApplicationSubscriber) handle(ctx context.Context, payload string) {
	m, ok := parseWithdrawn(payload)
	if !ok {
		s.Logger.WithField("payload", payload).Warn("ignoring malformed withdrawal")
		return
	}
	log := s.Logger.WithField("application_id", m.ApplicationID)

	sess, err := s.Sessions.AbandonByApplication(ctx, m.ApplicationID, m.Reason)
	if err != nil {
		log.WithError(err).Warn("abandon on withdrawal failed")
		return
	}
	if sess != nil {
		log.WithField("session_id", sess.ID).Info("session abandoned after withdrawal")
	}
}
