// Package hostbridge implements executor.Executor by calling the local host
// bridge that performs desktop actions.
package hostbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/deskgate/internal/domain/event"
	"github.com/Strob0t/deskgate/internal/port/executor"
)

var _ executor.Executor = (*Executor)(nil)

// Executor posts tool inputs to {baseURL}/tools/{tool}. At most
// maxConcurrent actions run on the desktop at once; callers beyond that
// wait for a slot.
type Executor struct {
	baseURL    string
	httpClient *http.Client
	sem        *semaphore.Weighted
}

// New creates an executor. timeout bounds one tool execution, not the wait
// for a slot.
func New(baseURL string, timeout time.Duration, maxConcurrent int) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Execute runs tool with input. A bridge that answers with a non-2xx status
// and a decodable result reports a tool failure, not a transport error.
func (e *Executor) Execute(ctx context.Context, tool string, input map[string]any) (event.ToolResult, error) {
	if input == nil {
		input = map[string]any{}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return event.ToolResult{}, fmt.Errorf("marshal %s input: %w", tool, err)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return event.ToolResult{}, fmt.Errorf("host bridge %s: wait for slot: %w", tool, err)
	}
	defer e.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tools/"+url.PathEscape(tool), bytes.NewReader(body))
	if err != nil {
		return event.ToolResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return event.ToolResult{}, fmt.Errorf("host bridge %s: %w", tool, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return event.ToolResult{}, fmt.Errorf("host bridge %s: read response: %w", tool, err)
	}

	var res event.ToolResult
	if jerr := json.Unmarshal(data, &res); jerr != nil {
		if resp.StatusCode >= 400 {
			return event.ToolResult{}, fmt.Errorf("host bridge %s: %s: %s", tool, resp.Status, strings.TrimSpace(string(data)))
		}
		return event.ToolResult{}, fmt.Errorf("host bridge %s: decode result: %w", tool, jerr)
	}
	if resp.StatusCode >= 400 && res.Error == "" {
		res.Success = false
		res.Error = resp.Status
	}
	return res, nil
}
