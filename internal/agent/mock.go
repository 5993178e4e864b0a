package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies when no agent backend is
// configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Text)
			break
		}
	}
	if last == "" {
		return Response{Text: "I am listening."}, nil
	}
	return Response{Text: fmt.Sprintf("I heard: %s", last)}, nil
}
