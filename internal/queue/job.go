package queue

import (
	"context"
	"encoding/json"
	"time"
)

// EvaluationJob carries everything the scorer needs; it never reads the database.
type EvaluationJob struct {
	JobID         string      `json:"job_id"`
	SessionID     string      `json:"session_id"`
	ApplicationID string      `json:"application_id"`
	CandidateID   string      `json:"candidate_id"`
	Answers       []JobAnswer `json:"answers"`
	EnqueuedAt    time.Time   `json:"enqueued_at"`
}

type JobAnswer struct {
	QuestionID         string `json:"question_id"`
	OrderNum           int    `json:"order_num"`
	Category           string `json:"category"`
	QuestionText       string `json:"question_text"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
	Transcript         string `json:"transcript"`
	DurationSeconds    int    `json:"duration_seconds"`
	Late               bool   `json:"late"`
}

// EvaluationOutcome is what a finished job reports back.
type EvaluationOutcome struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id" binding:"required"`

	OverallScore        *float64 `json:"overall_score"`
	TechnicalScore      *float64 `json:"technical_score"`
	CommunicationScore  *float64 `json:"communication_score"`
	ProblemSolvingScore *float64 `json:"problem_solving_score"`

	Summary             string   `json:"summary"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`

	Raw         json.RawMessage `json:"raw,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// JobQueue hands jobs to the scoring backend and returns its message id.
type JobQueue interface {
	Enqueue(ctx context.Context, job EvaluationJob) (string, error)
}

// ResultStore keeps finished outcomes until the orchestrator has applied them.
type ResultStore interface {
	Put(ctx context.Context, o EvaluationOutcome) error
	Get(ctx context.Context, sessionID string) (*EvaluationOutcome, bool, error)
	Delete(ctx context.Context, sessionID string) error
}
