package evaluation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/logger"
	"github.com/yoockh/yoointerview/internal/queue"
)

var job = queue.EvaluationJob{
	JobID:     "job-1",
	SessionID: "sess-1",
	Answers: []queue.JobAnswer{
		{OrderNum: 1, Category: "technical", QuestionText: "Explain channels", MaxDurationSeconds: 120, Transcript: "They pass values", DurationSeconds: 60},
		{OrderNum: 2, Category: "behavioral", QuestionText: "A conflict?", MaxDurationSeconds: 90, DurationSeconds: 100, Late: true},
	},
}

const validOutput = `{"overall_score": 7.5, "technical_score": 8, "communication_score": null,
"problem_solving_score": 6, "summary": " Solid. ", "strengths": ["clear", " "], "areas_for_improvement": ["depth"]}`

func TestBuildPromptKeepsOrderAndFlags(t *testing.T) {
	p := BuildPrompt(job)
	assert.Contains(t, p, "Question 1 [technical, limit 120s]: Explain channels")
	assert.Contains(t, p, "submitted after the time limit")
	assert.Contains(t, p, "(no answer captured)")
	assert.Less(t, strings.Index(p, "Question 1"), strings.Index(p, "Question 2"))
}

func TestParseValidOutput(t *testing.T) {
	out, err := Parse(job, "```json\n"+validOutput+"\n```")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.Equal(t, 7.5, *out.OverallScore)
	assert.Nil(t, out.CommunicationScore)
	assert.Equal(t, "Solid.", out.Summary)
	assert.Equal(t, []string{"clear"}, out.Strengths)
	assert.NotEmpty(t, out.Raw)
}

func TestParseRejectsOutOfRange(t *testing.T) {
	_, err := Parse(job, `{"overall_score": 11, "summary": "", "strengths": [], "areas_for_improvement": []}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestParseRejectsMissingFields(t *testing.T) {
	_, err := Parse(job, `{"overall_score": 5}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = Parse(job, "I cannot score this interview.")
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

type fakeLLM struct {
	outputs []string
	calls   int
}

func (f *fakeLLM) Name() string { return "fake" }
func (f *fakeLLM) Close() error { return nil }
func (f *fakeLLM) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errs := make(chan error, 1)
	out <- f.outputs[f.calls]
	f.calls++
	close(out)
	close(errs)
	return out, errs
}

func TestScorerRetriesInvalidOutput(t *testing.T) {
	f := &fakeLLM{outputs: []string{"not json", validOutput}}
	s := &Scorer{LLM: f, Attempts: 3, Backoff: time.Millisecond, Logger: logger.Discard()}

	out, err := s.Score(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, "job-1", out.JobID)
}

func TestScorerGivesUp(t *testing.T) {
	f := &fakeLLM{outputs: []string{"x", "y"}}
	s := &Scorer{LLM: f, Attempts: 2, Backoff: time.Millisecond, Logger: logger.Discard()}

	_, err := s.Score(context.Background(), job)
	assert.ErrorIs(t, err, ErrInvalidOutput)
	assert.Equal(t, 2, f.calls)
}
