package models

import "time"

type SessionStatus string

const (
	StatusScheduled  SessionStatus = "scheduled"
	StatusReady      SessionStatus = "ready"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusEvaluating SessionStatus = "evaluating"
	StatusEvaluated  SessionStatus = "evaluated"
	StatusExpired    SessionStatus = "expired"
	StatusAbandoned  SessionStatus = "abandoned"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusScheduled:  {StatusReady, StatusInProgress, StatusExpired, StatusAbandoned},
	StatusReady:      {StatusInProgress, StatusExpired, StatusAbandoned},
	StatusInProgress: {StatusCompleted, StatusExpired, StatusAbandoned},
	StatusCompleted:  {StatusEvaluating, StatusAbandoned},
	StatusEvaluating: {StatusEvaluated, StatusAbandoned},
}

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusReady, StatusInProgress, StatusCompleted,
		StatusEvaluating, StatusEvaluated, StatusExpired, StatusAbandoned:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, to := range sessionTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for expired and abandoned sessions.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusAbandoned
}

// IsActive is true while the session still blocks a new attempt for the same application.
func (s SessionStatus) IsActive() bool {
	switch s {
	case StatusScheduled, StatusReady, StatusInProgress, StatusCompleted, StatusEvaluating:
		return true
	}
	return false
}

// PastCompletion is true once every answer has been recorded.
func (s SessionStatus) PastCompletion() bool {
	return s == StatusCompleted || s == StatusEvaluating || s == StatusEvaluated
}

// ActiveStatuses lists the statuses for which IsActive is true.
func ActiveStatuses() []SessionStatus {
	return []SessionStatus{StatusScheduled, StatusReady, StatusInProgress, StatusCompleted, StatusEvaluating}
}

// InterviewSession is one candidate attempt. Version guards every lifecycle write.
type InterviewSession struct {
	ID            string        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ApplicationID string        `gorm:"column:application_id;type:uuid;index" json:"application_id"`
	CandidateID   string        `gorm:"column:candidate_id;type:uuid;index" json:"candidate_id"`
	Status        SessionStatus `gorm:"column:status;type:text;index" json:"status"`

	CurrentQuestionIndex int `gorm:"column:current_question_index;not null;default:0" json:"current_question_index"`
	TotalQuestions       int `gorm:"column:total_questions;not null" json:"total_questions"`

	// room handle, only populated while the candidate may join
	RoomName      string     `gorm:"column:room_name;type:text" json:"room_name,omitempty"`
	RoomURL       string     `gorm:"column:room_url;type:text" json:"-"`
	RoomToken     string     `gorm:"column:room_token;type:text" json:"-"`
	RoomExpiresAt *time.Time `gorm:"column:room_expires_at" json:"-"`

	ScheduledFor             time.Time  `gorm:"column:scheduled_for" json:"scheduled_for"`
	StartedAt                *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt              *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	LastContactAt            time.Time  `gorm:"column:last_contact_at;index" json:"last_contact_at"`
	CurrentQuestionStartedAt *time.Time `gorm:"column:current_question_started_at" json:"current_question_started_at,omitempty"`
	// end of the current question's time limit plus grace; the session is not idle before it
	AnswerDeadlineAt *time.Time `gorm:"column:answer_deadline_at" json:"answer_deadline_at,omitempty"`

	EvaluationJobID     string     `gorm:"column:evaluation_job_id;type:text" json:"evaluation_job_id,omitempty"`
	DispatchAttempts    int        `gorm:"column:dispatch_attempts;not null;default:0" json:"dispatch_attempts"`
	LastDispatchError   string     `gorm:"column:last_dispatch_error;type:text" json:"last_dispatch_error,omitempty"`
	DispatchStuckAt     *time.Time `gorm:"column:dispatch_stuck_at" json:"dispatch_stuck_at,omitempty"`
	EvaluatingAt        *time.Time `gorm:"column:evaluating_at" json:"evaluating_at,omitempty"`
	EvaluationOverdueAt *time.Time `gorm:"column:evaluation_overdue_at" json:"evaluation_overdue_at,omitempty"`
	EvaluatedAt         *time.Time `gorm:"column:evaluated_at" json:"evaluated_at,omitempty"`
	EndedReason         string     `gorm:"column:ended_reason;type:text" json:"ended_reason,omitempty"`

	Version   int64     `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (InterviewSession) TableName() string { return "interview_sessions" }

func (s *InterviewSession) HasRoom() bool { return s.RoomToken != "" }

// BeginFrom is when the begin window opens: the slot start, or creation for
// a session booked after its slot started.
func (s *InterviewSession) BeginFrom() time.Time {
	if s.CreatedAt.After(s.ScheduledFor) {
		return s.CreatedAt
	}
	return s.ScheduledFor
}

// ClearRoom drops the join credentials; the room name stays for audit.
func (s *InterviewSession) ClearRoom() {
	s.RoomURL = ""
	s.RoomToken = ""
	s.RoomExpiresAt = nil
}
