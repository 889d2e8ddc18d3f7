// Package timeline tracks the tool calls of one conversational turn as an
// ordered list of records with explicit status transitions.
package timeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/risk"
)

// Kind groups tool calls by where they run.
type Kind string

const (
	KindSkill    Kind = "skill"
	KindSystem   Kind = "system"
	KindDesktop  Kind = "desktop"
	KindProtocol Kind = "protocol-tool"
	KindOther    Kind = "other"
)

// Names used for informational records.
const (
	ToolWebSearch   = "web_search"
	ToolSkillLoad   = "skill"
	ToolSkillPolicy = "skill_policy"
	ToolMemory      = "memory"
)

// KindFor derives the kind of a tool from its name.
func KindFor(tool string) Kind {
	switch {
	case risk.IsDesktopTool(tool):
		return KindDesktop
	case tool == ToolWebSearch || tool == ToolMemory || tool == ToolSkillPolicy:
		return KindSystem
	case tool == ToolSkillLoad || strings.HasPrefix(tool, "skill_") || strings.HasPrefix(tool, "skill:"):
		return KindSkill
	case strings.HasPrefix(tool, "mcp__") || strings.Contains(tool, "::"):
		return KindProtocol
	default:
		return KindOther
	}
}

// Status is the lifecycle state of a record.
type Status string

const (
	StatusRunning         Status = "running"
	StatusPendingApproval Status = "pending_approval"
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
	StatusDenied          Status = "denied"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusDenied
}

var statusLabels = map[Status]string{
	StatusRunning:         "Running",
	StatusPendingApproval: "Awaiting approval",
	StatusSuccess:         "Succeeded",
	StatusError:           "Failed",
	StatusDenied:          "Denied",
}

// Label is the distinct user-facing label for a status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// allowed lists legal transitions. Terminal states have no entry.
var allowed = map[Status][]Status{
	StatusRunning:         {StatusPendingApproval, StatusSuccess, StatusError, StatusDenied},
	StatusPendingApproval: {StatusRunning, StatusDenied},
}

func canTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Record is one tool call in the timeline.
type Record struct {
	Seq           int            `json:"seq"`
	Tool          string         `json:"tool"`
	Kind          Kind           `json:"kind"`
	Input         map[string]any `json:"input,omitempty"`
	Status        Status         `json:"status"`
	StatusLabel   string         `json:"status_label"`
	RequestID     string         `json:"request_id,omitempty"`
	Informational bool           `json:"informational,omitempty"`
	Message       string         `json:"message,omitempty"`
	Data          any            `json:"data,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       time.Time      `json:"ended_at,omitzero"`
	DurationMs    int64          `json:"duration_ms,omitempty"`
}

// Duration is the elapsed time of a terminal record, zero otherwise.
func (r *Record) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Timeline is the ordered record list of one turn. The turn consumer is the
// only writer; readers take snapshots through Records.
type Timeline struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{now: time.Now}
}

// NewWithClock returns an empty timeline using now for timestamps.
func NewWithClock(now func() time.Time) *Timeline {
	return &Timeline{now: now}
}

// Start appends a running record for a tool invocation and returns its index.
func (t *Timeline) Start(tool string, input map[string]any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(Record{Tool: tool, Kind: KindFor(tool), Input: input, Status: StatusRunning})
}

// Attach binds requestID to the most recent unresolved record for tool that
// has no request yet. If none exists a new running record is appended.
func (t *Timeline) Attach(tool string, input map[string]any, requestID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.records) - 1; i >= 0; i-- {
		r := &t.records[i]
		if r.Tool == tool && r.Status == StatusRunning && r.RequestID == "" && !r.Informational {
			r.RequestID = requestID
			r.Kind = KindDesktop
			if input != nil {
				r.Input = input
			}
			return i
		}
	}
	return t.appendLocked(Record{
		Tool:      tool,
		Kind:      KindDesktop,
		Input:     input,
		Status:    StatusRunning,
		RequestID: requestID,
	})
}

// Suspend moves the record for requestID to pending_approval.
func (t *Timeline) Suspend(requestID string) error {
	return t.update(requestID, StatusPendingApproval, "", nil)
}

// Approve resumes a pending record.
func (t *Timeline) Approve(requestID string) error {
	return t.update(requestID, StatusRunning, "", nil)
}

// Deny marks the record for requestID as denied with message.
func (t *Timeline) Deny(requestID, message string) error {
	return t.update(requestID, StatusDenied, message, nil)
}

// Complete closes the running record for requestID as success or error.
func (t *Timeline) Complete(requestID string, success bool, message string, data any) error {
	to := StatusError
	if success {
		to = StatusSuccess
	}
	return t.update(requestID, to, message, data)
}

// CloseLatest closes the most recent running record for tool and returns
// its index. It reports false when no such record exists. Pending records
// are never matched.
func (t *Timeline) CloseLatest(tool string, success bool, message string, data any) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.records) - 1; i >= 0; i-- {
		r := &t.records[i]
		if r.Tool == tool && r.Status == StatusRunning && !r.Informational {
			to := StatusError
			if success {
				to = StatusSuccess
			}
			t.setLocked(r, to, message, data)
			return i, true
		}
	}
	return -1, false
}

// OpenInfo appends a running informational record, for example a web search.
func (t *Timeline) OpenInfo(tool string, input map[string]any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(Record{Tool: tool, Kind: KindFor(tool), Input: input, Status: StatusRunning, Informational: true})
}

// CloseInfo closes the most recent running informational record for tool.
func (t *Timeline) CloseInfo(tool string, success bool, message string, data any) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.records) - 1; i >= 0; i-- {
		r := &t.records[i]
		if r.Tool == tool && r.Informational && r.Status == StatusRunning {
			to := StatusError
			if success {
				to = StatusSuccess
			}
			t.setLocked(r, to, message, data)
			return i, true
		}
	}
	return -1, false
}

// Note appends an already-finished informational record.
func (t *Timeline) Note(tool, message string, data any) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	return t.appendLocked(Record{
		Tool:          tool,
		Kind:          KindFor(tool),
		Status:        StatusSuccess,
		Informational: true,
		Message:       message,
		Data:          data,
		StartedAt:     now,
		EndedAt:       now,
	})
}

// Interrupt closes every unresolved record when the turn ends abnormally:
// pending records become denied, running records become error.
// It returns the number of records changed.
func (t *Timeline) Interrupt(message string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.records {
		r := &t.records[i]
		switch r.Status {
		case StatusPendingApproval:
			t.setLocked(r, StatusDenied, message, nil)
			n++
		case StatusRunning:
			t.setLocked(r, StatusError, message, nil)
			n++
		}
	}
	return n
}

// At returns a copy of the record at index i.
func (t *Timeline) At(i int) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.records) {
		return Record{}, false
	}
	return t.records[i], true
}

// Find returns a copy of the record bound to requestID.
func (t *Timeline) Find(requestID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexLocked(requestID); i >= 0 {
		return t.records[i], true
	}
	return Record{}, false
}

// Records returns a snapshot of all records in order.
func (t *Timeline) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of records.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *Timeline) update(requestID string, to Status, message string, data any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(requestID)
	if i < 0 {
		return fmt.Errorf("timeline record for request %s: %w", requestID, domain.ErrNotFound)
	}
	r := &t.records[i]
	if !canTransition(r.Status, to) {
		return fmt.Errorf("%w: record %s cannot move from %s to %s", domain.ErrConflict, requestID, r.Status, to)
	}
	t.setLocked(r, to, message, data)
	return nil
}

// indexLocked returns the latest record bound to requestID, or -1.
func (t *Timeline) indexLocked(requestID string) int {
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].RequestID == requestID {
			return i
		}
	}
	return -1
}

func (t *Timeline) appendLocked(r Record) int {
	r.Seq = len(t.records)
	if r.StartedAt.IsZero() {
		r.StartedAt = t.now()
	}
	r.StatusLabel = r.Status.Label()
	t.records = append(t.records, r)
	return r.Seq
}

func (t *Timeline) setLocked(r *Record, to Status, message string, data any) {
	r.Status = to
	r.StatusLabel = to.Label()
	if message != "" {
		r.Message = message
	}
	if data != nil {
		r.Data = data
	}
	if to.Terminal() {
		r.EndedAt = t.now()
		r.DurationMs = r.Duration().Milliseconds()
	}
}
