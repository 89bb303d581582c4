package evaluation

import (
	"fmt"
	"strings"

	"github.com/yoockh/yoointerview/internal/queue"
)

const instructions = `You are a senior interviewer scoring a recorded job interview.
Score every dimension from 0 to 10. Use null for a dimension the questions did not exercise.
Respond with a single JSON object and nothing else:
{"overall_score": number, "technical_score": number|null, "communication_score": number|null,
 "problem_solving_score": number|null, "summary": string,
 "strengths": [string], "areas_for_improvement": [string]}`

// BuildPrompt renders the answers in question order.
func BuildPrompt(job queue.EvaluationJob) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")

	for _, a := range job.Answers {
		fmt.Fprintf(&b, "Question %d [%s, limit %ds]: %s\n", a.OrderNum, a.Category, a.MaxDurationSeconds, a.QuestionText)
		transcript := strings.TrimSpace(a.Transcript)
		if transcript == "" {
			transcript = "(no answer captured)"
		}
		fmt.Fprintf(&b, "Answer (%ds", a.DurationSeconds)
		if a.Late {
			b.WriteString(", submitted after the time limit")
		}
		fmt.Fprintf(&b, "): %s\n\n", transcript)
	}
	return b.String()
}
