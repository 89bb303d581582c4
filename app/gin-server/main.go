package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoointerview/config"
	"github.com/yoockh/yoointerview/internal/alerts"
	"github.com/yoockh/yoointerview/internal/api/handlers"
	"github.com/yoockh/yoointerview/internal/api/middleware"
	"github.com/yoockh/yoointerview/internal/api/routes"
	"github.com/yoockh/yoointerview/internal/cache"
	"github.com/yoockh/yoointerview/internal/evaluation"
	"github.com/yoockh/yoointerview/internal/jobs"
	"github.com/yoockh/yoointerview/internal/locks"
	"github.com/yoockh/yoointerview/internal/logger"
	"github.com/yoockh/yoointerview/internal/providers/llm"
	"github.com/yoockh/yoointerview/internal/providers/room"
	"github.com/yoockh/yoointerview/internal/providers/stt"
	"github.com/yoockh/yoointerview/internal/questionbank"
	"github.com/yoockh/yoointerview/internal/queue"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/storage"
	"github.com/yoockh/yoointerview/internal/workers"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	settings, err := config.LoadSettings()
	if err != nil {
		log.WithError(err).Fatal("settings")
	}

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := config.Migrate(config.PostgresDB); err != nil {
		log.WithError(err).Fatal("PostgreSQL migrate error")
	}
	log.Info("PostgreSQL connected")

	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init error")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Fatal("MongoDB index error")
	}
	log.Info("MongoDB connected")

	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init error")
	}
	log.Info("Redis connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.RedisClient
	mdb := config.MongoDatabase()

	// repositories
	sessionsRepo := pgrepo.NewInterviewRepo(config.PostgresDB)
	applicationsRepo := pgrepo.NewApplicationRepo(config.PostgresDB)
	archiveRepo := pgrepo.NewArchiveRepo(config.PostgresDB)
	eventRepo := mongorepo.NewEventRepo(mdb, config.SessionEventsCollection)
	bufferRepo := mongorepo.NewBufferRepo(mdb, config.AnswerChunksCollection)

	bank, err := questionbank.Load(settings.Interview.QuestionBankPath)
	if err != nil {
		log.WithError(err).Fatal("question bank")
	}

	notifier := newNotifier(ctx, settings.Alerts, log)
	locker := locks.NewRedisLocker(rdb, settings.Interview.LockTTL)
	rooms := room.NewTokenProvider(rdb, settings.Room.TokenSecret, settings.Room.BaseURL, settings.Room.TokenTTL, room.ICEServersFromEnv())
	recorder := &services.Recorder{Events: eventRepo, Redis: rdb, Logger: log}
	results := queue.NewRedisResultStore(rdb, settings.Evaluation.ResultTTL)
	resultCache := cache.NewRedisCache(rdb)

	// services
	buffers := services.NewBufferService(bufferRepo, settings.Workers.ChunkTTL)
	dispatcher := services.NewEvaluationDispatcher(services.DispatcherDeps{
		Sessions:    sessionsRepo,
		Queue:       queue.NewRedisStreamQueue(rdb, settings.Evaluation.Stream),
		Results:     results,
		Cache:       resultCache,
		Locker:      locker,
		Notifier:    notifier,
		Recorder:    recorder,
		Logger:      log,
		Evaluation:  settings.Evaluation,
		LockTimeout: settings.Interview.LockTimeout,
	})
	interviews := services.NewInterviewService(services.InterviewDeps{
		Sessions:     sessionsRepo,
		Applications: applicationsRepo,
		Rooms:        rooms,
		Locker:       locker,
		Dispatcher:   dispatcher,
		Buffers:      buffers,
		Bank:         bank,
		Recorder:     recorder,
		Logger:       log,
		Interview:    settings.Interview,
		Room:         settings.Room,
	})
	resultsSvc := services.NewResultService(sessionsRepo, resultCache, settings.Evaluation.CacheTTL, settings.Interview.PollInterval, log)

	var archive services.ArchiveService
	if settings.Archive.Bucket != "" {
		up, err := storage.NewGCSUploader(ctx, settings.Archive.Bucket)
		if err != nil {
			log.WithError(err).Fatal("GCS init error")
		}
		defer up.Close()
		archive = services.NewArchiveService(sessionsRepo, archiveRepo, up, settings.Archive.Prefix)
	}

	if settings.Workers.Enabled {
		startWorkers(ctx, settings, log, workerDeps{
			buffers:    buffers,
			dispatcher: dispatcher,
			results:    results,
			archive:    archive,
			notifier:   notifier,
		})
	}

	sub := &workers.ApplicationSubscriber{Redis: rdb, Sessions: interviews, Logger: log}
	if err := sub.Start(ctx); err != nil {
		log.WithError(err).Fatal("application subscriber")
	}

	reconciler := jobs.NewReconcileJob(interviews, dispatcher, settings.Jobs, log)
	if err := reconciler.Start(ctx); err != nil {
		log.WithError(err).Fatal("background jobs")
	}
	defer reconciler.Stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		Interview:      handlers.NewInterviewHandler(interviews, resultsSvc),
		Evaluation:     handlers.NewEvaluationHandler(dispatcher),
		Audit:          handlers.NewAuditHandler(eventRepo),
		WS:             handlers.NewWSHandler(interviews, buffers, rooms, rdb, settings.Workers.AudioStream, settings.HTTP.AllowedOrigins),
		Auth:           middleware.AuthConfigFromEnv(),
		AllowedOrigins: settings.HTTP.AllowedOrigins,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              ":" + settings.HTTP.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", settings.HTTP.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	_ = config.MongoClient.Disconnect(shutdownCtx)
	_ = rdb.Close()
}

func newNotifier(ctx context.Context, cfg config.AlertSettings, log *logrus.Logger) alerts.Notifier {
	if cfg.SNSTopicARN == "" {
		return alerts.LogNotifier{Logger: log}
	}
	n, err := alerts.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
	if err != nil {
		log.WithError(err).Warn("SNS unavailable, alerts go to the log")
		return alerts.LogNotifier{Logger: log}
	}
	return n
}

type workerDeps struct {
	buffers    services.BufferService
	dispatcher services.EvaluationDispatcher
	results    queue.ResultStore
	archive    services.ArchiveService
	notifier   alerts.Notifier
}

func newLLM(ctx context.Context, cfg config.EvaluationSettings) (llm.Provider, error) {
	if cfg.LLMBackend == "gemini" {
		return llm.NewGeminiAPI(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	}
	return llm.NewVertexGemini(ctx, cfg.GCPProject, cfg.GCPLocation, cfg.LLMModel)
}

// startWorkers runs the in-process scoring backend and transcription. They stop with ctx.
func startWorkers(ctx context.Context, settings *config.Settings, log *logrus.Logger, d workerDeps) {
	rdb := config.RedisClient

	model, err := newLLM(ctx, settings.Evaluation)
	if err != nil {
		log.WithError(err).Fatal("LLM init error")
	}
	go func() { <-ctx.Done(); _ = model.Close() }()

	eval := &workers.EvaluationWorkerPool{
		Redis: rdb,
		Scorer: &evaluation.Scorer{
			LLM:      model,
			Attempts: settings.Evaluation.ScoringAttempts,
			Backoff:  settings.Evaluation.RetryBackoff,
			Logger:   log,
		},
		Results:    d.results,
		Dispatcher: d.dispatcher,
		Archive:    d.archive,
		Notifier:   d.notifier,
		NumWorkers: settings.Workers.EvaluationWorkers,
		Logger:     log,
		Stream:     settings.Evaluation.Stream,
		Group:      settings.Evaluation.Group,
		JobTimeout: settings.Evaluation.Timeout,
	}
	if err := eval.Start(ctx); err != nil {
		log.WithError(err).Fatal("evaluation workers")
	}

	recognizer, err := stt.NewGoogleSpeech(ctx, 16000)
	if err != nil {
		log.WithError(err).Warn("speech client unavailable, audio transcription disabled")
	} else {
		go func() { <-ctx.Done(); _ = recognizer.Close() }()
		audio := &workers.AudioWorkerPool{
			Redis:      rdb,
			Buffers:    d.buffers,
			NumWorkers: settings.Workers.AudioWorkers,
			STT:        recognizer,
			Language:   settings.Workers.Language,
			Logger:     log,
			Stream:     settings.Workers.AudioStream,
			Group:      settings.Workers.AudioGroup,
		}
		if err := audio.Start(ctx); err != nil {
			log.WithError(err).Fatal("audio workers")
		}
	}
}
