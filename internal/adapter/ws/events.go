package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/domain/timeline"
	"github.com/Strob0t/deskgate/internal/domain/turn"
)

// Event type constants for WebSocket messages.
const (
	EventPermissionRequest  = "gate.permission_request"
	EventPermissionResolved = "gate.permission_resolved"
	EventApproveAll         = "gate.approve_all"
	EventPolicyUpdated      = "policy.updated"
	EventTurnText           = "turn.text"
	EventTurnTimeline       = "turn.timeline"
	EventTurnStatus         = "turn.status"
	EventTurnWarning        = "turn.warning"
)

// PermissionRequestEvent asks the dialog to approve or deny a desktop tool call.
type PermissionRequestEvent struct {
	TurnID      string         `json:"turn_id"`
	SessionID   string         `json:"session_id"`
	RequestID   string         `json:"request_id"`
	RecordID    string         `json:"record_id,omitempty"`
	Tool        string         `json:"tool"`
	Risk        risk.Level     `json:"risk"`
	Policy      policy.Policy  `json:"policy"`
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`
}

// PermissionResolvedEvent tells every listener a pending call was decided so
// stale dialogs can be dismissed.
type PermissionResolvedEvent struct {
	TurnID    string          `json:"turn_id"`
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Approved  bool            `json:"approved"`
	Source    approval.Source `json:"source"`
}

// ApproveAllEvent is broadcast when the blanket approval flag changes.
type ApproveAllEvent struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Enabled   bool   `json:"enabled"`
}

// PolicyUpdatedEvent carries the new policy settings.
type PolicyUpdatedEvent struct {
	Settings policy.Settings `json:"settings"`
}

// TurnTextEvent carries answer text appended during streaming.
type TurnTextEvent struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Replace   bool   `json:"replace,omitempty"`
}

// TurnTimelineEvent carries the current state of one timeline record.
type TurnTimelineEvent struct {
	TurnID    string          `json:"turn_id"`
	SessionID string          `json:"session_id"`
	Record    timeline.Record `json:"record"`
}

// TurnStatusEvent is broadcast when a turn starts or ends.
type TurnStatusEvent struct {
	TurnID    string      `json:"turn_id"`
	SessionID string      `json:"session_id"`
	Status    turn.Status `json:"status"`
	Error     string      `json:"error,omitempty"`
}

// TurnWarningEvent surfaces a non-blocking problem such as an unreachable ledger.
type TurnWarningEvent struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (e PermissionRequestEvent) Session() string  { return e.SessionID }
func (e PermissionResolvedEvent) Session() string { return e.SessionID }
func (e ApproveAllEvent) Session() string         { return e.SessionID }
func (e TurnTextEvent) Session() string           { return e.SessionID }
func (e TurnTimelineEvent) Session() string       { return e.SessionID }
func (e TurnStatusEvent) Session() string         { return e.SessionID }
func (e TurnWarningEvent) Session() string        { return e.SessionID }

// sessionScoped is implemented by payloads bound to one chat session.
type sessionScoped interface {
	Session() string
}

// BroadcastEvent marshals a typed event and broadcasts it, scoped to the
// payload's session when it has one.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var session string
	if s, ok := payload.(sessionScoped); ok {
		session = s.Session()
	}
	h.BroadcastToSession(ctx, session, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
