package workers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/alerts"
	"github.com/yoockh/yoointerview/internal/queue"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/utils"
)

type Scorer interface {
	Score(ctx context.Context, job queue.EvaluationJob) (*queue.EvaluationOutcome, error)
}

// EvaluationWorkerPool is the scoring backend: it consumes evaluation jobs,
// scores them, stores the outcome and reports it back to the dispatcher.
type EvaluationWorkerPool struct {
	Redis      *redis.Client
	Scorer     Scorer
	Results    queue.ResultStore
	Dispatcher services.EvaluationDispatcher
	Archive    services.ArchiveService
	Notifier   alerts.Notifier
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	JobTimeout     time.Duration
}

func (p *EvaluationWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Scorer == nil || p.Results == nil || p.Dispatcher == nil {
		return errors.New("EvaluationWorkerPool missing dependency: Redis/Scorer/Results/Dispatcher must be set")
	}
	if p.Stream == "" {
		p.Stream = "evaluation:jobs"
	}
	if p.Group == "" {
		p.Group = "evaluation-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "eval"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.JobTimeout <= 0 {
		p.JobTimeout = 5 * time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
	if p.Notifier == nil {
		p.Notifier = alerts.LogNotifier{Logger: p.Logger}
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	return nil
}

func (p *EvaluationWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).Warn("evaluation stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

// handleMsg never returns an error: a job that cannot be scored is alerted
// and acknowledged, and the dispatcher's overdue check covers the session.
func (p *EvaluationWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	job, err := queue.DecodeJob(msg)
	if err != nil {
		p.Logger.WithError(err).WithField("redis_id", msg.ID).Error("dropping malformed evaluation job")
		return
	}
	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":   msg.ID,
		"session_id": job.SessionID,
		"job_id":     job.JobID,
	})

	jobCtx, cancel := context.WithTimeout(ctx, p.JobTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := p.Scorer.Score(jobCtx, *job)
	if err != nil {
		log.WithError(err).Error("scoring failed")
		_ = p.Notifier.Notify(ctx, alerts.Alert{
			Kind:      alerts.KindScoringFailed,
			SessionID: job.SessionID,
			Detail:    err.Error(),
			At:        time.Now().UTC(),
		})
		return
	}
	outcome.CompletedAt = time.Now().UTC()

	// stored first so the reconciler can apply it if the callback below fails
	if err := p.Results.Put(ctx, *outcome); err != nil {
		log.WithError(err).Warn("store outcome failed")
	}

	// the stored copy expires by TTL if the session never becomes applicable
	if _, err := p.Dispatcher.ApplyResult(ctx, *outcome); err != nil {
		log.WithError(err).WithField("code", utils.CodeOf(err)).Warn("apply outcome failed; left for reconciler")
		return
	}
	log.WithField("scoring_ms", time.Since(start).Milliseconds()).Info("evaluation applied")

	if p.Archive != nil {
		if _, err := p.Archive.ArchiveEvaluation(ctx, job.SessionID); err != nil {
			log.WithError(err).Warn("archive evaluation failed")
		}
	}
}
