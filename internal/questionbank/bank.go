package questionbank

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_bank.yaml
var defaultBank []byte

const fallbackPosition = "general"

type Question struct {
	Category           string `yaml:"category" json:"category" validate:"required"`
	Text               string `yaml:"text" json:"question_text" validate:"required"`
	MaxDurationSeconds int    `yaml:"max_duration_seconds" json:"max_duration_seconds" validate:"required,min=10,max=1800"`
}

// Bank maps a normalised position title to its ordered question set.
type Bank struct {
	sets map[string][]Question
}

// Load reads the bank at path, or the embedded default when path is empty.
func Load(path string) (*Bank, error) {
	raw := defaultBank
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read question bank: %w", err)
		}
		raw = b
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Bank, error) {
	var sets map[string][]Question
	if err := yaml.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}

	out := make(map[string][]Question, len(sets))
	for pos, qs := range sets {
		for i, q := range qs {
			if strings.TrimSpace(q.Text) == "" || q.MaxDurationSeconds <= 0 {
				return nil, fmt.Errorf("question bank %q entry %d: text and max_duration_seconds are required", pos, i+1)
			}
		}
		out[normalize(pos)] = qs
	}
	if len(out[fallbackPosition]) == 0 {
		return nil, errors.New("question bank has no general set")
	}
	return &Bank{sets: out}, nil
}

// For returns a copy of the set for position, falling back to the general set.
func (b *Bank) For(position string) []Question {
	qs, ok := b.sets[normalize(position)]
	if !ok || len(qs) == 0 {
		qs = b.sets[fallbackPosition]
	}
	return append([]Question(nil), qs...)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
