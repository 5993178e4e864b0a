package transcribe

import (
	"context"
	"fmt"
	"time"
)

// MockTranscriber produces deterministic placeholder text for local runs
// without an ASR service.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (t *MockTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if len(pcm) == 0 || sampleRate <= 0 {
		return "", nil
	}
	d := time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
	return fmt.Sprintf("[%.1fs of speech]", d.Seconds()), nil
}
