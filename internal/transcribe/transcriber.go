package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transcriber converts a PCM16LE mono utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Config controls transcriber construction.
type Config struct {
	Mode    string
	HTTPURL string
}

// NewTranscriber builds a transcriber for the configured mode. auto picks
// http when a URL is set, otherwise mock.
func NewTranscriber(cfg Config) (Transcriber, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPTranscriber(cfg.HTTPURL), nil
		}
		return NewMockTranscriber(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("transcriber HTTP url is required for http mode")
		}
		return NewHTTPTranscriber(cfg.HTTPURL), nil
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unsupported transcriber mode %q", cfg.Mode)
	}
}
