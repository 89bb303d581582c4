package models

import "time"

// Answer is keyed by (session_id, question_id); a second insert for the same pair is rejected by the index.
type Answer struct {
	ID         string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID  string `gorm:"column:session_id;type:uuid;uniqueIndex:idx_answer_session_question" json:"session_id"`
	QuestionID string `gorm:"column:question_id;type:uuid;uniqueIndex:idx_answer_session_question" json:"question_id"`
	OrderNum   int    `gorm:"column:order_num" json:"order_num"`

	Transcript string `gorm:"column:transcript;type:text" json:"transcript"`

	// DurationSeconds is capped at the question limit plus grace; the raw client value is kept alongside.
	DurationSeconds         int  `gorm:"column:duration_seconds" json:"duration_seconds"`
	ReportedDurationSeconds int  `gorm:"column:reported_duration_seconds" json:"reported_duration_seconds"`
	Late                    bool `gorm:"column:late" json:"late"`

	SubmittedAt time.Time `gorm:"column:submitted_at;index" json:"submitted_at"`
}

func (Answer) TableName() string { return "interview_answers" }
