package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mirelabs/mira/internal/reliability"
)

// HTTPClient forwards completion requests to a companion-protocol HTTP
// endpoint. Retryable statuses get one retry with a short backoff.
type HTTPClient struct {
	url    string
	model  string
	client *http.Client
}

func NewHTTPClient(url, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPClient{
		url:   strings.TrimSpace(url),
		model: model,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return Response{}, err
	}
	if resp.retryAfter {
		time.Sleep(reliability.ExponentialBackoff(0, 250*time.Millisecond, time.Second))
		resp, err = c.post(ctx, payload)
		if err != nil {
			return Response{}, err
		}
		if resp.retryAfter {
			return Response{}, fmt.Errorf("agent http status %d after retry", resp.status)
		}
	}
	return resp.body, nil
}

type postResult struct {
	body       Response
	status     int
	retryAfter bool
}

func (c *HTTPClient) post(ctx context.Context, payload []byte) (postResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return postResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return postResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if reliability.IsRetryableHTTPStatus(res.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return postResult{status: res.StatusCode, retryAfter: true}, nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return postResult{}, fmt.Errorf("agent http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return postResult{}, fmt.Errorf("read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		// Tolerate a bare-text endpoint.
		text := strings.TrimSpace(string(body))
		if text == "" {
			return postResult{}, fmt.Errorf("decode response: %w", err)
		}
		return postResult{body: Response{Text: text}, status: res.StatusCode}, nil
	}
	return postResult{body: out, status: res.StatusCode}, nil
}
