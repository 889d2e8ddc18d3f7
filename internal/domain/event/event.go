// Package event defines the events streamed by the agent backend during one
// conversational turn, and the tool result the client posts back.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/deskgate/internal/domain"
)

// Type identifies the kind of a stream event.
type Type string

const (
	TypeText               Type = "text"
	TypeToolStart          Type = "tool_start"
	TypeDesktopToolRequest Type = "desktop_tool_request"
	TypeToolResult         Type = "tool_result"
	TypeSkill              Type = "skill"
	TypeSkillPolicy        Type = "skill_policy"
	TypeSearchStart        Type = "search_start"
	TypeSearchDone         Type = "search_done"
	TypeSearchError        Type = "search_error"
	TypeMemory             Type = "memory"
	TypeDone               Type = "done"
	TypeError              Type = "error"
)

// SearchResult is a single web search hit attached to search_done.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Event is one decoded stream event. Fields are populated depending on Type.
type Event struct {
	Type      Type           `json:"type"`
	Content   string         `json:"content,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      any            `json:"data,omitempty"`
	Skills    []string       `json:"skills,omitempty"`
	Results   []SearchResult `json:"results,omitempty"`
	Query     string         `json:"query,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Decode parses a single event payload. Unknown types decode successfully so
// the consumer can skip them; structurally invalid payloads do not.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: decode event: %v", domain.ErrValidation, err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the fields each event type depends on.
func (e *Event) Validate() error {
	switch e.Type {
	case "":
		return fmt.Errorf("%w: event type is required", domain.ErrValidation)
	case TypeToolStart, TypeToolResult:
		if e.Tool == "" {
			return fmt.Errorf("%w: %s event without tool", domain.ErrValidation, e.Type)
		}
	case TypeDesktopToolRequest:
		if e.Tool == "" {
			return fmt.Errorf("%w: desktop_tool_request without tool", domain.ErrValidation)
		}
		if e.RequestID == "" {
			return fmt.Errorf("%w: desktop_tool_request without request_id", domain.ErrValidation)
		}
	}
	return nil
}

// Known reports whether the consumer has a handler for the event type.
func (e *Event) Known() bool {
	switch e.Type {
	case TypeText, TypeToolStart, TypeDesktopToolRequest, TypeToolResult,
		TypeSkill, TypeSkillPolicy, TypeSearchStart, TypeSearchDone, TypeSearchError,
		TypeMemory, TypeDone, TypeError:
		return true
	}
	return false
}

// Fatal reports whether the event terminates the turn with an error.
// An error field on search_error or tool_result is recoverable.
func (e *Event) Fatal() bool {
	if e.Type == TypeError {
		return true
	}
	return e.Error != "" && e.Type != TypeSearchError && e.Type != TypeToolResult
}

// FatalMessage returns the error text carried by a fatal event.
func (e *Event) FatalMessage() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "agent backend reported an error"
}

// Succeeded reports the success flag, treating absent as failure.
func (e *Event) Succeeded() bool {
	return e.Success != nil && *e.Success
}
