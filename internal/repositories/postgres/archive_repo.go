package postgres

import (
	"context"
	"errors"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/utils"
	"gorm.io/gorm"
)

type ArchiveRepository interface {
	Insert(ctx context.Context, a *models.EvaluationArchive) error
	LatestBySession(ctx context.Context, sessionID string) (*models.EvaluationArchive, error)
}

type archiveRepo struct {
	db *gorm.DB
}

func NewArchiveRepo(db *gorm.DB) ArchiveRepository {
	return &archiveRepo{db: db}
}

func (r *archiveRepo) Insert(ctx context.Context, a *models.EvaluationArchive) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *archiveRepo) LatestBySession(ctx context.Context, sessionID string) (*models.EvaluationArchive, error) {
	var row models.EvaluationArchive
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("uploaded_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
