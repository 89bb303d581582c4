package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the orchestrator policy. Connection strings stay in the env
// variables read by the Init* functions.
type Settings struct {
	HTTP       HTTPSettings       `mapstructure:"http"`
	Interview  InterviewSettings  `mapstructure:"interview"`
	Room       RoomSettings       `mapstructure:"room"`
	Evaluation EvaluationSettings `mapstructure:"evaluation"`
	Workers    WorkerSettings     `mapstructure:"workers"`
	Jobs       JobSettings        `mapstructure:"jobs"`
	Alerts     AlertSettings      `mapstructure:"alerts"`
	Archive    ArchiveSettings    `mapstructure:"archive"`
}

type HTTPSettings struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type InterviewSettings struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	BeginTimeout      time.Duration `mapstructure:"begin_timeout"`
	AnswerGrace       time.Duration `mapstructure:"answer_grace"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	QuestionBankPath  string        `mapstructure:"question_bank_path"`
}

type RoomSettings struct {
	BaseURL         string        `mapstructure:"base_url"`
	TokenSecret     string        `mapstructure:"token_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	AcquireAttempts int           `mapstructure:"acquire_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

type EvaluationSettings struct {
	Stream              string        `mapstructure:"stream"`
	Group               string        `mapstructure:"group"`
	EnqueueAttempts     int           `mapstructure:"enqueue_attempts"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
	StuckAfter          time.Duration `mapstructure:"stuck_after"`
	MaxDispatchAttempts int           `mapstructure:"max_dispatch_attempts"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ResultTTL           time.Duration `mapstructure:"result_ttl"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	ScoringAttempts     int           `mapstructure:"scoring_attempts"`

	LLMBackend   string `mapstructure:"llm_backend"` // vertex|gemini
	LLMModel     string `mapstructure:"llm_model"`
	GCPProject   string `mapstructure:"gcp_project"`
	GCPLocation  string `mapstructure:"gcp_location"`
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
}

type WorkerSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	EvaluationWorkers int           `mapstructure:"evaluation_workers"`
	AudioWorkers      int           `mapstructure:"audio_workers"`
	AudioStream       string        `mapstructure:"audio_stream"`
	AudioGroup        string        `mapstructure:"audio_group"`
	ChunkTTL          time.Duration `mapstructure:"chunk_ttl"`
	Language          string        `mapstructure:"language"`
}

type JobSettings struct {
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
	SweepSchedule     string `mapstructure:"sweep_schedule"`
	BatchSize         int    `mapstructure:"batch_size"`
}

type AlertSettings struct {
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
	AWSRegion   string `mapstructure:"aws_region"`
}

type ArchiveSettings struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("interview.inactivity_timeout", 15*time.Minute)
	v.SetDefault("interview.begin_timeout", 30*time.Minute)
	v.SetDefault("interview.answer_grace", 15*time.Second)
	v.SetDefault("interview.poll_interval", 5*time.Second)
	v.SetDefault("interview.lock_timeout", 5*time.Second)
	v.SetDefault("interview.lock_ttl", 30*time.Second)
	v.SetDefault("interview.question_bank_path", "")

	v.SetDefault("room.base_url", "https://rooms.localhost/interview")
	v.SetDefault("room.token_secret", "")
	v.SetDefault("room.token_ttl", 2*time.Hour)
	v.SetDefault("room.acquire_attempts", 3)
	v.SetDefault("room.retry_backoff", 250*time.Millisecond)

	v.SetDefault("evaluation.stream", "evaluation:jobs")
	v.SetDefault("evaluation.group", "evaluation-workers")
	v.SetDefault("evaluation.enqueue_attempts", 3)
	v.SetDefault("evaluation.retry_backoff", 200*time.Millisecond)
	v.SetDefault("evaluation.settle_delay", 30*time.Second)
	v.SetDefault("evaluation.stuck_after", 5*time.Minute)
	v.SetDefault("evaluation.max_dispatch_attempts", 10)
	v.SetDefault("evaluation.timeout", 30*time.Minute)
	v.SetDefault("evaluation.result_ttl", 24*time.Hour)
	v.SetDefault("evaluation.cache_ttl", 24*time.Hour)
	v.SetDefault("evaluation.scoring_attempts", 3)
	v.SetDefault("evaluation.llm_backend", "vertex")
	v.SetDefault("evaluation.llm_model", "gemini-1.5-flash")
	v.SetDefault("evaluation.gcp_project", "")
	v.SetDefault("evaluation.gcp_location", "us-central1")
	v.SetDefault("evaluation.gemini_api_key", "")

	v.SetDefault("workers.enabled", true)
	v.SetDefault("workers.evaluation_workers", 2)
	v.SetDefault("workers.audio_workers", 4)
	v.SetDefault("workers.audio_stream", "audio:stream")
	v.SetDefault("workers.audio_group", "audio-workers")
	v.SetDefault("workers.chunk_ttl", 24*time.Hour)
	v.SetDefault("workers.language", "en-US")

	v.SetDefault("jobs.reconcile_schedule", "@every 30s")
	v.SetDefault("jobs.sweep_schedule", "@every 1m")
	v.SetDefault("jobs.batch_size", 100)

	v.SetDefault("alerts.sns_topic_arn", "")
	v.SetDefault("alerts.aws_region", "us-east-1")

	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "interviews")
}

// LoadSettings reads defaults, then CONFIG_FILE (yaml) if set, then env
// overrides such as INTERVIEW_INACTIVITY_TIMEOUT=20m.
func LoadSettings() (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"interview.inactivity_timeout": s.Interview.InactivityTimeout,
		"interview.begin_timeout":      s.Interview.BeginTimeout,
		"interview.poll_interval":      s.Interview.PollInterval,
		"interview.lock_timeout":       s.Interview.LockTimeout,
		"interview.lock_ttl":           s.Interview.LockTTL,
		"room.token_ttl":               s.Room.TokenTTL,
		"evaluation.stuck_after":       s.Evaluation.StuckAfter,
		"evaluation.timeout":           s.Evaluation.Timeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if s.Interview.AnswerGrace < 0 {
		errs = append(errs, errors.New("interview.answer_grace must not be negative"))
	}
	if s.Room.TokenSecret == "" {
		errs = append(errs, errors.New("room.token_secret is required (ROOM_TOKEN_SECRET)"))
	}
	if s.Room.AcquireAttempts < 1 || s.Evaluation.EnqueueAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if s.Evaluation.MaxDispatchAttempts < 1 {
		errs = append(errs, errors.New("evaluation.max_dispatch_attempts must be at least 1"))
	}
	switch s.Evaluation.LLMBackend {
	case "vertex", "gemini":
	default:
		errs = append(errs, fmt.Errorf("evaluation.llm_backend %q is not supported", s.Evaluation.LLMBackend))
	}
	return errors.Join(errs...)
}
