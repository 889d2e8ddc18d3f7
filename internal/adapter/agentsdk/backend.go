// Package agentsdk implements agentbackend.Backend for the agent SDK
// service: turns stream over SSE from POST /chat/stream and desktop tool
// results go back through POST /tools/desktop-result.
package agentsdk

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

	cfotel "github.com/Strob0t/deskgate/internal/adapter/otel"
	"github.com/Strob0t/deskgate/internal/domain/event"
	"github.com/Strob0t/deskgate/internal/logger"
	"github.com/Strob0t/deskgate/internal/port/agentbackend"
)

const backendName = "agentsdk"

func init() {
	agentbackend.Register(backendName, func(cfg map[string]string) (agentbackend.Backend, error) {
		base := cfg["url"]
		if base == "" {
			return nil, fmt.Errorf("agentsdk: url is required")
		}
		timeout := 10 * time.Second
		if v := cfg["submit_timeout"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("agentsdk: submit_timeout: %w", err)
			}
			timeout = d
		}
		return New(base, timeout), nil
	})
}

var _ agentbackend.Backend = (*Backend)(nil)

// Backend talks to one agent SDK instance.
type Backend struct {
	baseURL string
	// stream has no client timeout; a turn lasts as long as the model runs.
	stream *http.Client
	submit *http.Client
}

// New creates a backend for baseURL. submitTimeout bounds result posts.
func New(baseURL string, submitTimeout time.Duration) *Backend {
	transport := cfotel.HTTPTransport(http.DefaultTransport)
	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		stream:  &http.Client{Transport: transport},
		submit:  &http.Client{Transport: transport, Timeout: submitTimeout},
	}
}

// Name returns the registered backend name.
func (b *Backend) Name() string { return backendName }

// Stream opens the SSE stream for one turn. Cancelling ctx or calling
// Close on the stream ends the request.
func (b *Backend) Stream(ctx context.Context, req agentbackend.ChatRequest) (agentbackend.Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if id := logger.RequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := b.stream.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open chat stream: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	return newStream(resp.Body, cancel), nil
}

// submitAck is the agent SDK's response to a posted result.
type submitAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SubmitResult posts a tool result for requestID.
func (b *Backend) SubmitResult(ctx context.Context, requestID string, result event.ToolResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal tool result: %w", err)
	}
	u := b.baseURL + "/tools/desktop-result?request_id=" + url.QueryEscape(requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.submit.Do(req)
	if err != nil {
		return fmt.Errorf("submit result %s: %w", requestID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("submit result %s: read response: %w", requestID, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("submit result %s: %s: %s", requestID, resp.Status, strings.TrimSpace(string(data)))
	}
	var ack submitAck
	if err := json.Unmarshal(data, &ack); err == nil && !ack.Success && ack.Error != "" {
		return fmt.Errorf("submit result %s: %s", requestID, ack.Error)
	}
	return nil
}
