package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// EvaluationResult is written once per session, in the same transaction that marks it evaluated.
type EvaluationResult struct {
	ID        string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID string `gorm:"column:session_id;type:uuid;uniqueIndex:idx_evaluation_session" json:"session_id"`
	JobID     string `gorm:"column:job_id;type:text" json:"job_id"`

	OverallScore        *float64 `gorm:"column:overall_score" json:"overall_score"`
	TechnicalScore      *float64 `gorm:"column:technical_score" json:"technical_score"`
	CommunicationScore  *float64 `gorm:"column:communication_score" json:"communication_score"`
	ProblemSolvingScore *float64 `gorm:"column:problem_solving_score" json:"problem_solving_score"`

	Summary             string         `gorm:"column:summary;type:text" json:"summary"`
	Strengths           pq.StringArray `gorm:"column:strengths;type:text[]" json:"strengths"`
	AreasForImprovement pq.StringArray `gorm:"column:areas_for_improvement;type:text[]" json:"areas_for_improvement"`

	RawOutput datatypes.JSON `gorm:"column:raw_output" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (EvaluationResult) TableName() string { return "evaluation_results" }

const (
	MinScore = 0.0
	MaxScore = 10.0
)
