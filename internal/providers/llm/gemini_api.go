package llm

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// GeminiAPI talks to the public Gemini API with an API key. It has no
// streaming path here; the whole answer arrives as one chunk.
type GeminiAPI struct {
	client *genai.Client
	model  string
}

func NewGeminiAPI(ctx context.Context, apiKey, model string) (*GeminiAPI, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiAPI{client: c, model: model}, nil
}

func (g *GeminiAPI) Name() string { return "gemini" }

func (g *GeminiAPI) Close() error { return nil }

func (g *GeminiAPI) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		if err != nil {
			errs <- err
			return
		}
		if result == nil {
			errs <- ErrEmptyResponse
			return
		}
		text, err := result.Text()
		if err != nil {
			errs <- err
			return
		}
		out <- text
	}()

	return out, errs
}
