package stt

import (
	"context"
	"strings"
)

type Provider interface {
	Transcribe(ctx context.Context, audio []byte, language string) (text string, confidence float64, err error)
	Close() error
}

// NormalizeLanguage maps short codes to BCP-47 tags accepted by the recognizer.
func NormalizeLanguage(v, fallback string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "":
		if fallback == "" {
			return "en-US"
		}
		return fallback
	case "en", "en-us":
		return "en-US"
	case "id", "id-id":
		return "id-ID"
	}
	return v
}
