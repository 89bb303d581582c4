package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/models"
	mongorepo "github.com/yoockh/yoointerview/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoointerview/internal/repositories/postgres"
	"github.com/yoockh/yoointerview/internal/utils"
)

type memBuffers struct {
	chunks []models.AnswerChunk
}

func (m *memBuffers) InsertChunk(ctx context.Context, c *models.AnswerChunk) error {
	for _, e := range m.chunks {
		if e.SessionID == c.SessionID && e.QuestionID == c.QuestionID && e.ChunkIndex == c.ChunkIndex {
			return mongorepo.ErrDuplicateChunk
		}
	}
	m.chunks = append(m.chunks, *c)
	return nil
}

func (m *memBuffers) UpdateSTT(ctx context.Context, sessionID, questionID string, chunkIndex int64, rawText string, confidence float64, status string, processingMS int64) error {
	for i := range m.chunks {
		c := &m.chunks[i]
		if c.SessionID == sessionID && c.QuestionID == questionID && c.ChunkIndex == chunkIndex {
			c.RawText, c.STTConfidence, c.STTStatus, c.ProcessingTimeMS = rawText, confidence, status, processingMS
		}
	}
	return nil
}

func (m *memBuffers) ListByQuestion(ctx context.Context, sessionID, questionID string, limit int64) ([]models.AnswerChunk, error) {
	var out []models.AnswerChunk
	for _, c := range m.chunks {
		if c.SessionID == sessionID && c.QuestionID == questionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func TestBufferServiceAssemblesTranscriptInOrder(t *testing.T) {
	repo := &memBuffers{}
	svc := NewBufferService(repo, 0)
	ctx := context.Background()
	audio := "AAAA"

	for _, idx := range []int64{2, 1, 3} {
		_, err := svc.InsertAudioChunk(ctx, AudioChunkInput{SessionID: "s", QuestionID: "q", ChunkIndex: idx, AudioBase64: &audio})
		require.NoError(t, err)
	}
	require.NoError(t, svc.MarkSTT(ctx, "s", "q", 2, "world", 0.9, models.ChunkDone, 10))
	require.NoError(t, svc.MarkSTT(ctx, "s", "q", 1, " hello ", 0.8, models.ChunkDone, 10))
	require.NoError(t, svc.MarkSTT(ctx, "s", "q", 3, "", 0, models.ChunkFailed, 10))

	got, err := svc.AssembleTranscript(ctx, "s", "q")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestBufferServiceValidation(t *testing.T) {
	svc := NewBufferService(&memBuffers{}, 0)
	ctx := context.Background()
	audio := "AAAA"

	_, err := svc.InsertAudioChunk(ctx, AudioChunkInput{SessionID: "s", ChunkIndex: 1, AudioBase64: &audio})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.InsertAudioChunk(ctx, AudioChunkInput{SessionID: "s", QuestionID: "q", ChunkIndex: 1})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.InsertAudioChunk(ctx, AudioChunkInput{SessionID: "s", QuestionID: "q", ChunkIndex: 1, AudioBase64: &audio})
	require.NoError(t, err)
	_, err = svc.InsertAudioChunk(ctx, AudioChunkInput{SessionID: "s", QuestionID: "q", ChunkIndex: 1, AudioBase64: &audio})
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	assert.True(t, utils.IsCode(svc.MarkSTT(ctx, "s", "", 1, "", 0, "done", 0), utils.CodeInvalidArgument))
}

type memUploader struct {
	objects map[string][]byte
	err     error
}

func (u *memUploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[objectName] = b
	return "gs://archive/" + objectName, nil
}

func TestArchiveEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completed(t)
	_, err := f.dispatcher.ApplyResult(ctx, outcomeFor(sess))
	require.NoError(t, err)

	up := &memUploader{}
	archives := pgrepo.NewArchiveRepo(f.db)
	svc := NewArchiveService(f.repo, archives, up, "interviews")

	row, err := svc.ArchiveEvaluation(ctx, sess.ID)
	require.NoError(t, err)
	assert.Contains(t, row.FilePath, "gs://archive/interviews/"+sess.ID+"/evaluation-")

	require.Len(t, up.objects, 1)
	for _, body := range up.objects {
		var bundle archiveBundle
		require.NoError(t, json.NewDecoder(bytes.NewReader(body)).Decode(&bundle))
		assert.Len(t, bundle.Questions, 3)
		assert.Len(t, bundle.Answers, 3)
		assert.Equal(t, "Good fundamentals", bundle.Result.Summary)
		assert.Equal(t, len(body), row.FileSize)
	}

	latest, err := archives.LatestBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, latest.ID)
}

func TestArchiveEvaluationRequiresEvaluated(t *testing.T) {
	f := newFixture(t)
	sess := f.completed(t)

	svc := NewArchiveService(f.repo, pgrepo.NewArchiveRepo(f.db), &memUploader{}, "x")
	_, err := svc.ArchiveEvaluation(context.Background(), sess.ID)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestArchiveEvaluationUploadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.completed(t)
	_, err := f.dispatcher.ApplyResult(ctx, outcomeFor(sess))
	require.NoError(t, err)

	svc := NewArchiveService(f.repo, pgrepo.NewArchiveRepo(f.db), &memUploader{err: errors.New("403")}, "x")
	_, err = svc.ArchiveEvaluation(ctx, sess.ID)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))
}
