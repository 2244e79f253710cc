package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NoopBackend completes every task immediately without doing any work. It is
// the daemon default when no executor is configured, useful for driving the
// scheduling and approval flow end to end.
type NoopBackend struct{}

func (NoopBackend) Start(ctx context.Context, t *Task) (string, error) {
	return "completed without executor", nil
}

// WebhookBackend hands tasks to an external executor over HTTP. The task is
// POSTed as JSON; a 2xx response body becomes the task result, anything else
// is a failure.
type WebhookBackend struct {
	URL    string
	Client *http.Client
}

// NewWebhookBackend creates a backend posting tasks to url.
func NewWebhookBackend(url string) *WebhookBackend {
	return &WebhookBackend{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (b *WebhookBackend) Start(ctx context.Context, t *Task) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute task: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("executor returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return string(data), nil
}
