// Package executor holds the task executors shipped with nexrun.
package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/task"
)

const DefaultTimeout = 15 * time.Second

// HTTPExecutor delivers each task as a JSON envelope to a fixed endpoint,
// routed through the acquired resource. Any 2xx answer is a success.
type HTTPExecutor struct {
	endpoint string
	timeout  time.Duration
	headers  map[string]string
}

func NewHTTPExecutor(endpoint string, timeout time.Duration, headers map[string]string) *HTTPExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		timeout:  timeout,
		headers:  headers,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, t *task.Task, r resource.Resource) error {
	client, err := resource.NewHTTPClient(r, e.timeout, false)
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	body, err := t.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Task-ID", t.ID)
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery via %s failed: %w", r.URI, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
