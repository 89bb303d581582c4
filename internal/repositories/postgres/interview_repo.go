package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"gorm.io/gorm"
)

// InterviewRepository persists sessions and everything hanging off them.
// Lifecycle writes are optimistic: they match on the version the caller read
// and fail with utils.ErrConflict when someone else got there first.
type InterviewRepository interface {
	CreateSession(ctx context.Context, s *models.InterviewSession, questions []models.InterviewQuestion) error
	GetSession(ctx context.Context, id string) (*models.InterviewSession, error)
	FindActiveByApplication(ctx context.Context, applicationID string) (*models.InterviewSession, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]models.InterviewSession, error)
	UpdateSession(ctx context.Context, s *models.InterviewSession) error
	TouchContact(ctx context.Context, id string, at time.Time) error

	ListQuestions(ctx context.Context, sessionID string) ([]models.InterviewQuestion, error)

	RecordAnswer(ctx context.Context, s *models.InterviewSession, a *models.Answer) error
	GetAnswer(ctx context.Context, sessionID, questionID string) (*models.Answer, error)
	ListAnswers(ctx context.Context, sessionID string) ([]models.Answer, error)

	SaveEvaluation(ctx context.Context, s *models.InterviewSession, r *models.EvaluationResult) error
	GetEvaluation(ctx context.Context, sessionID string) (*models.EvaluationResult, error)
}

// SessionFilter narrows ListSessions. Zero fields are ignored.
type SessionFilter struct {
	Statuses             []models.SessionStatus
	ContactBefore        *time.Time
	AnswerDeadlineBefore *time.Time // answer_deadline_at unset or before this instant
	ScheduledBefore      *time.Time
	CreatedBefore        *time.Time
	CompletedBefore      *time.Time
	EvaluatingSince      *time.Time // evaluating_at before this instant
	DispatchStuck        *bool
	Limit                int
}

type interviewRepo struct {
	db *gorm.DB
}

func NewInterviewRepo(db *gorm.DB) InterviewRepository {
	return &interviewRepo{db: db}
}

func (r *interviewRepo) CreateSession(ctx context.Context, s *models.InterviewSession, questions []models.InterviewQuestion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return translate(err)
		}
		if len(questions) == 0 {
			return nil
		}
		return translate(tx.Create(&questions).Error)
	})
}

func (r *interviewRepo) GetSession(ctx context.Context, id string) (*models.InterviewSession, error) {
	var s models.InterviewSession
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *interviewRepo) FindActiveByApplication(ctx context.Context, applicationID string) (*models.InterviewSession, error) {
	var s models.InterviewSession
	err := r.db.WithContext(ctx).
		Where("application_id = ? AND status IN ?", applicationID, models.ActiveStatuses()).
		Order("created_at DESC").
		Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *interviewRepo) ListSessions(ctx context.Context, f SessionFilter) ([]models.InterviewSession, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	q := r.db.WithContext(ctx).Model(&models.InterviewSession{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.ContactBefore != nil {
		q = q.Where("last_contact_at < ?", *f.ContactBefore)
	}
	if f.AnswerDeadlineBefore != nil {
		q = q.Where("(answer_deadline_at IS NULL OR answer_deadline_at < ?)", *f.AnswerDeadlineBefore)
	}
	if f.ScheduledBefore != nil {
		q = q.Where("scheduled_for < ?", *f.ScheduledBefore)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.CompletedBefore != nil {
		q = q.Where("completed_at IS NOT NULL AND completed_at < ?", *f.CompletedBefore)
	}
	if f.EvaluatingSince != nil {
		q = q.Where("evaluating_at IS NOT NULL AND evaluating_at < ?", *f.EvaluatingSince)
	}
	if f.DispatchStuck != nil {
		if *f.DispatchStuck {
			q = q.Where("dispatch_stuck_at IS NOT NULL")
		} else {
			q = q.Where("dispatch_stuck_at IS NULL")
		}
	}

	var rows []models.InterviewSession
	err := q.Order("created_at ASC").Limit(f.Limit).Find(&rows).Error
	return rows, err
}

func (r *interviewRepo) UpdateSession(ctx context.Context, s *models.InterviewSession) error {
	return updateVersioned(r.db.WithContext(ctx), s)
}

// TouchContact bumps last_contact_at only; it does not take part in versioning.
func (r *interviewRepo) TouchContact(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.InterviewSession{}).
		Where("id = ? AND last_contact_at < ?", id, at).
		UpdateColumn("last_contact_at", at)
	return res.Error
}

func (r *interviewRepo) ListQuestions(ctx context.Context, sessionID string) ([]models.InterviewQuestion, error) {
	var rows []models.InterviewQuestion
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("order_num ASC").
		Find(&rows).Error
	return rows, err
}

func updateVersioned(tx *gorm.DB, s *models.InterviewSession) error {
	now := time.Now().UTC()
	next := s.Version + 1

	res := tx.Model(&models.InterviewSession{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"status":                      s.Status,
			"current_question_index":      s.CurrentQuestionIndex,
			"room_name":                   s.RoomName,
			"room_url":                    s.RoomURL,
			"room_token":                  s.RoomToken,
			"room_expires_at":             s.RoomExpiresAt,
			"started_at":                  s.StartedAt,
			"completed_at":                s.CompletedAt,
			"last_contact_at":             s.LastContactAt,
			"current_question_started_at": s.CurrentQuestionStartedAt,
			"answer_deadline_at":          s.AnswerDeadlineAt,
			"evaluation_job_id":           s.EvaluationJobID,
			"dispatch_attempts":           s.DispatchAttempts,
			"last_dispatch_error":         s.LastDispatchError,
			"dispatch_stuck_at":           s.DispatchStuckAt,
			"evaluating_at":               s.EvaluatingAt,
			"evaluation_overdue_at":       s.EvaluationOverdueAt,
			"evaluated_at":                s.EvaluatedAt,
			"ended_reason":                s.EndedReason,
			"version":                     next,
			"updated_at":                  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrConflict
	}

	s.Version = next
	s.UpdatedAt = now
	return nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return utils.ErrDuplicate
	}
	return err
}
