package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yoockh/yoointerview/internal/models"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
	"github.com/yoockh/yoointerview/internal/utils"
)

// BufferService keeps streamed answer audio and its partial transcripts.
type BufferService interface {
	InsertAudioChunk(ctx context.Context, in AudioChunkInput) (*models.AnswerChunk, error)
	MarkSTT(ctx context.Context, sessionID, questionID string, chunkIndex int64, rawText string, confidence float64, status string, processingMS int64) error
	ListByQuestion(ctx context.Context, sessionID, questionID string, limit int64) ([]models.AnswerChunk, error)
	AssembleTranscript(ctx context.Context, sessionID, questionID string) (string, error)
}

type AudioChunkInput struct {
	SessionID   string
	QuestionID  string
	ChunkIndex  int64
	AudioURL    *string
	AudioBase64 *string
	Language    string
}

type bufferService struct {
	buffers mongorepo.BufferRepository
	ttl     time.Duration
}

func NewBufferService(buffers mongorepo.BufferRepository, ttl time.Duration) BufferService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &bufferService{buffers: buffers, ttl: ttl}
}

func (s *bufferService) InsertAudioChunk(ctx context.Context, in AudioChunkInput) (*models.AnswerChunk, error) {
	const op = "BufferService.InsertAudioChunk"

	if in.SessionID == "" || in.QuestionID == "" || in.ChunkIndex <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id and question_id are required and chunk_index must be > 0", nil)
	}
	if in.AudioURL == nil && in.AudioBase64 == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "audio_url or audio_base64 is required", nil)
	}

	now := time.Now().UTC()
	doc := &models.AnswerChunk{
		SessionID:   in.SessionID,
		QuestionID:  in.QuestionID,
		ChunkIndex:  in.ChunkIndex,
		AudioURL:    in.AudioURL,
		AudioBase64: in.AudioBase64,
		Language:    in.Language,
		STTStatus:   models.ChunkPending,
		Timestamp:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	if err := s.buffers.InsertChunk(ctx, doc); err != nil {
		if errors.Is(err, mongorepo.ErrDuplicateChunk) {
			return nil, utils.E(utils.CodeConflict, op, "chunk already received", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to insert audio chunk", err)
	}
	return doc, nil
}

func (s *bufferService) MarkSTT(ctx context.Context, sessionID, questionID string, chunkIndex int64, rawText string, confidence float64, status string, processingMS int64) error {
	const op = "BufferService.MarkSTT"

	if sessionID == "" || questionID == "" || chunkIndex <= 0 || status == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id, question_id, chunk_index (>0), and status are required", nil)
	}
	if err := s.buffers.UpdateSTT(ctx, sessionID, questionID, chunkIndex, rawText, confidence, status, processingMS); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update stt fields", err)
	}
	return nil
}

func (s *bufferService) ListByQuestion(ctx context.Context, sessionID, questionID string, limit int64) ([]models.AnswerChunk, error) {
	const op = "BufferService.ListByQuestion"

	if sessionID == "" || questionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id and question_id are required", nil)
	}
	out, err := s.buffers.ListByQuestion(ctx, sessionID, questionID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list answer chunks", err)
	}
	return out, nil
}

// AssembleTranscript joins the transcribed chunks of one answer in chunk order.
// Chunks still pending or failed are skipped.
func (s *bufferService) AssembleTranscript(ctx context.Context, sessionID, questionID string) (string, error) {
	chunks, err := s.ListByQuestion(ctx, sessionID, questionID, 0)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.STTStatus != models.ChunkDone {
			continue
		}
		if t := strings.TrimSpace(c.RawText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
