package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"gorm.io/gorm"
)

// RecordAnswer inserts the answer and writes the advanced session in one
// transaction. A second answer for the same question fails with utils.ErrDuplicate.
func (r *interviewRepo) RecordAnswer(ctx context.Context, s *models.InterviewSession, a *models.Answer) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return translate(err)
		}
		return updateVersioned(tx, s)
	})
}

func (r *interviewRepo) GetAnswer(ctx context.Context, sessionID, questionID string) (*models.Answer, error) {
	var row models.Answer
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND question_id = ?", sessionID, questionID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *interviewRepo) ListAnswers(ctx context.Context, sessionID string) ([]models.Answer, error) {
	var rows []models.Answer
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("order_num ASC").
		Find(&rows).Error
	return rows, err
}
