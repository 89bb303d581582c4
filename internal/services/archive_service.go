package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/yoockh/yoointerview/internal/models"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/storage"
	"github.com/yoockh/yoointerview/internal/utils"
)

// ArchiveService copies an evaluated interview to object storage for the hiring record.
type ArchiveService interface {
	ArchiveEvaluation(ctx context.Context, sessionID string) (*models.EvaluationArchive, error)
}

type archiveBundle struct {
	Session   *models.InterviewSession   `json:"session"`
	Questions []models.InterviewQuestion `json:"questions"`
	Answers   []models.Answer            `json:"answers"`
	Result    *models.EvaluationResult   `json:"result"`
	Archived  time.Time                  `json:"archived_at"`
}

type archiveService struct {
	sessions pgrepo.InterviewRepository
	archives pgrepo.ArchiveRepository
	uploader storage.Uploader
	prefix   string
}

func NewArchiveService(sessions pgrepo.InterviewRepository, archives pgrepo.ArchiveRepository, uploader storage.Uploader, prefix string) ArchiveService {
	return &archiveService{sessions: sessions, archives: archives, uploader: uploader, prefix: prefix}
}

func (s *archiveService) ArchiveEvaluation(ctx context.Context, sessionID string) (*models.EvaluationArchive, error) {
	const op = "ArchiveService.ArchiveEvaluation"

	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if s.uploader == nil {
		return nil, utils.E(utils.CodeInternal, op, "uploader is not configured", nil)
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load session", err)
	}
	if sess.Status != models.StatusEvaluated {
		return nil, utils.E(utils.CodeConflict, op, "session is not evaluated", nil)
	}

	bundle := archiveBundle{Session: sess, Archived: time.Now().UTC()}
	if bundle.Questions, err = s.sessions.ListQuestions(ctx, sessionID); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load questions", err)
	}
	if bundle.Answers, err = s.sessions.ListAnswers(ctx, sessionID); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load answers", err)
	}
	if bundle.Result, err = s.sessions.GetEvaluation(ctx, sessionID); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load evaluation", err)
	}

	body, err := json.Marshal(bundle)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encode archive", err)
	}

	objectName := path.Join(s.prefix, sessionID, fmt.Sprintf("evaluation-%d.json", bundle.Archived.Unix()))
	storedPath, err := s.uploader.Upload(ctx, objectName, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to upload archive", err)
	}

	row := &models.EvaluationArchive{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		FilePath:   storedPath,
		FileSize:   len(body),
		MimeType:   "application/json",
		UploadedAt: bundle.Archived,
	}
	if err := s.archives.Insert(ctx, row); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist archive metadata", err)
	}
	return row, nil
}
