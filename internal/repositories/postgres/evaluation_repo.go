package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"gorm.io/gorm"
)

// SaveEvaluation stores the result and the evaluated session atomically.
// The unique index on session_id makes a second write fail with utils.ErrDuplicate.
func (r *interviewRepo) SaveEvaluation(ctx context.Context, s *models.InterviewSession, res *models.EvaluationResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(res).Error; err != nil {
			return translate(err)
		}
		return updateVersioned(tx, s)
	})
}

func (r *interviewRepo) GetEvaluation(ctx context.Context, sessionID string) (*models.EvaluationResult, error) {
	var row models.EvaluationResult
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
