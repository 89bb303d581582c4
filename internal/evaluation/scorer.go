package evaluation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/providers/llm"
	"github.com/yoockh/yoointerview/internal/queue"
)

// Scorer asks the model for an evaluation, retrying on transport errors and
// on output that fails validation.
type Scorer struct {
	LLM      llm.Provider
	Attempts int
	Backoff  time.Duration
	Logger   *logrus.Logger
}

func (s *Scorer) Score(ctx context.Context, job queue.EvaluationJob) (*queue.EvaluationOutcome, error) {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	log := s.Logger
	if log == nil {
		log = logrus.New()
	}

	prompt := BuildPrompt(job)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(backoff << (i - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		raw, err := llm.Complete(ctx, s.LLM, prompt)
		if err == nil {
			var out *queue.EvaluationOutcome
			out, err = Parse(job, raw)
			if err == nil {
				return out, nil
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		log.WithFields(logrus.Fields{
			"session_id": job.SessionID,
			"attempt":    i + 1,
			"provider":   s.LLM.Name(),
		}).WithError(err).Warn("scoring attempt failed")
	}
	return nil, lastErr
}
