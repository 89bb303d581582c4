package models

import (
	"time"

	"github.com/lib/pq"
)

type ApplicationStatus string

const (
	ApplicationEligible  ApplicationStatus = "interview_eligible"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
	ApplicationClosed    ApplicationStatus = "closed"
)

// Application is the hiring record an interview session belongs to. It is owned by
// the recruiting side; this service only reads it and flips it to withdrawn.
type Application struct {
	ID          string            `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CandidateID string            `gorm:"column:candidate_id;type:uuid;index" json:"candidate_id"`
	Position    string            `gorm:"column:position;type:text" json:"position"`
	Skills      pq.StringArray    `gorm:"column:skills;type:text[]" json:"skills"`
	Status      ApplicationStatus `gorm:"column:status;type:text" json:"status"`

	SlotStartsAt *time.Time `gorm:"column:slot_starts_at" json:"slot_starts_at,omitempty"`
	SlotEndsAt   *time.Time `gorm:"column:slot_ends_at" json:"slot_ends_at,omitempty"`

	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Application) TableName() string { return "applications" }

// EligibleForInterview requires an eligible status and a booked slot that has
// not ended by now.
func (a *Application) EligibleForInterview(now time.Time) bool {
	if a.Status != ApplicationEligible || a.SlotStartsAt == nil {
		return false
	}
	return a.SlotEndsAt == nil || now.Before(*a.SlotEndsAt)
}
