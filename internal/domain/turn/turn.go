// Package turn defines the snapshot of one conversational turn: the
// streamed answer, informational side data, and the tool-call timeline.
package turn

import (
	"time"

	"github.com/Strob0t/deskgate/internal/domain/event"
	"github.com/Strob0t/deskgate/internal/domain/timeline"
)

// Status is the lifecycle state of a turn.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Done reports whether the turn has finished.
func (s Status) Done() bool {
	return s != StatusStreaming
}

// Turn is a point-in-time copy of a turn's state.
type Turn struct {
	ID            string               `json:"id"`
	SessionID     string               `json:"session_id"`
	UserMessage   string               `json:"user_message"`
	Status        Status               `json:"status"`
	Answer        string               `json:"answer"`
	Searching     bool                 `json:"searching,omitempty"`
	SearchResults []event.SearchResult `json:"search_results,omitempty"`
	Skills        []string             `json:"skills,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
	Error         string               `json:"error,omitempty"`
	ApproveAll    bool                 `json:"approve_all"`
	Timeline      []timeline.Record    `json:"timeline"`
	StartedAt     time.Time            `json:"started_at"`
	EndedAt       time.Time            `json:"ended_at,omitzero"`
}

// StartRequest is the input for starting a turn.
type StartRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	UseMemory *bool  `json:"use_memory,omitempty"`
}
