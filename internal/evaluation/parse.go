package evaluation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"github.com/yoockh/yoointerview/internal/queue"
)

var ErrInvalidOutput = errors.New("evaluation output rejected")

var scoreSchema = map[string]any{"type": []any{"number", "null"}, "minimum": 0, "maximum": 10}

var outputSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []any{"overall_score", "summary", "strengths", "areas_for_improvement"},
	"properties": map[string]any{
		"overall_score":         scoreSchema,
		"technical_score":       scoreSchema,
		"communication_score":   scoreSchema,
		"problem_solving_score": scoreSchema,
		"summary":               map[string]any{"type": "string"},
		"strengths":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"areas_for_improvement": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
})

type modelOutput struct {
	OverallScore        *float64 `json:"overall_score"`
	TechnicalScore      *float64 `json:"technical_score"`
	CommunicationScore  *float64 `json:"communication_score"`
	ProblemSolvingScore *float64 `json:"problem_solving_score"`
	Summary             string   `json:"summary"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
}

// Parse validates raw model text against the output schema and converts it
// into an outcome for job. Markdown code fences around the object are tolerated.
func Parse(job queue.EvaluationJob, raw string) (*queue.EvaluationOutcome, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no json object found", ErrInvalidOutput)
	}

	res, err := gojsonschema.Validate(outputSchema, gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if !res.Valid() {
		msgs := make([]string, len(res.Errors()))
		for i, desc := range res.Errors() {
			msgs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; "))
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	return &queue.EvaluationOutcome{
		JobID:               job.JobID,
		SessionID:           job.SessionID,
		OverallScore:        out.OverallScore,
		TechnicalScore:      out.TechnicalScore,
		CommunicationScore:  out.CommunicationScore,
		ProblemSolvingScore: out.ProblemSolvingScore,
		Summary:             strings.TrimSpace(out.Summary),
		Strengths:           trimAll(out.Strengths),
		AreasForImprovement: trimAll(out.AreasForImprovement),
		Raw:                 json.RawMessage(body),
	}, nil
}

func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
