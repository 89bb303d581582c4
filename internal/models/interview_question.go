package models

import "time"

// InterviewQuestion is frozen when its session is created.
type InterviewQuestion struct {
	ID                 string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID          string    `gorm:"column:session_id;type:uuid;uniqueIndex:idx_question_session_order" json:"session_id"`
	OrderNum           int       `gorm:"column:order_num;uniqueIndex:idx_question_session_order" json:"order_num"`
	Category           string    `gorm:"column:category;type:text" json:"category"`
	QuestionText       string    `gorm:"column:question_text;type:text" json:"question_text"`
	MaxDurationSeconds int       `gorm:"column:max_duration_seconds" json:"max_duration_seconds"`
	CreatedAt          time.Time `gorm:"column:created_at" json:"created_at"`
}

func (InterviewQuestion) TableName() string { return "interview_questions" }
