// Package agentbackend defines the port for the AI agent backend that
// streams turn events and accepts desktop tool results.
package agentbackend

import (
	"context"

	"github.com/Strob0t/deskgate/internal/domain/event"
)

// ChatRequest starts one conversational turn on the backend.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UseMemory bool   `json:"use_memory"`
}

// Stream yields the events of one turn in order. Next returns io.EOF after
// the last event.
type Stream interface {
	Next(ctx context.Context) (event.Event, error)
	Close() error
}

// Backend is the agent backend connection.
type Backend interface {
	// Name returns the identifier the backend was registered under.
	Name() string

	// Stream opens the event stream for a turn.
	Stream(ctx context.Context, req ChatRequest) (Stream, error)

	// SubmitResult posts the outcome of a desktop tool request so the
	// backend can resume the model.
	SubmitResult(ctx context.Context, requestID string, result event.ToolResult) error
}
