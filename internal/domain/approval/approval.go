// Package approval defines the durable approval records kept by the ledger
// and the decision vocabulary shared by every decision path.
package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/risk"
)

// Status is the lifecycle state of a ledger record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusExpired:
		return true
	}
	return false
}

// Decision is the verdict submitted for a pending record.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// ParseDecision accepts the canonical values plus the short forms used by
// the dialog ("approve", "allow", "deny").
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "allow":
		return DecisionApproved, nil
	case "denied", "deny", "reject":
		return DecisionDenied, nil
	}
	return "", fmt.Errorf("%w: decision must be approved or denied", domain.ErrValidation)
}

// DecisionFor maps a boolean verdict to a Decision.
func DecisionFor(approved bool) Decision {
	if approved {
		return DecisionApproved
	}
	return DecisionDenied
}

// Status returns the record status a decision produces.
func (d Decision) Status() Status {
	if d == DecisionApproved {
		return StatusApproved
	}
	return StatusDenied
}

// Source names the path through which a local decision was made.
type Source string

const (
	SourceDialog Source = "dialog"
	SourcePanel  Source = "panel"
	SourceAuto   Source = "auto"
	SourcePolicy Source = "policy"
	SourceLedger Source = "ledger"
	SourceStop   Source = "stop"
)

// Defaults applied by the ledger.
const (
	DefaultOrganization = "default-org"
	DefaultSource       = "unknown"
	DefaultDecidedBy    = "system"
	DefaultTTL          = 600 * time.Second
	DefaultListLimit    = 50
	MaxListLimit        = 200
)

// Payload is the context stored with a record.
type Payload struct {
	SessionID        string         `json:"session_id,omitempty"`
	TurnID           string         `json:"turn_id,omitempty"`
	DesktopRequestID string         `json:"desktop_request_id,omitempty"`
	Description      string         `json:"description,omitempty"`
	Input            map[string]any `json:"input,omitempty"`
}

// Record is a durable ledger entry for one privileged tool invocation.
type Record struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	OrganizationID string     `json:"organization_id"`
	ToolName       string     `json:"tool_name"`
	RiskLevel      risk.Level `json:"risk_level"`
	Status         Status     `json:"status"`
	Payload        Payload    `json:"payload"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	DecidedBy      string     `json:"decided_by,omitempty"`
	DecisionNote   string     `json:"decision_note,omitempty"`
}

// Expired reports whether a pending record has passed its expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return r.Status == StatusPending && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Decided reports whether the record has left the pending state.
func (r *Record) Decided() bool {
	return r.Status != StatusPending
}

// Approved reports whether the record was approved.
func (r *Record) Approved() bool {
	return r.Status == StatusApproved
}

// CreateRequest is the input for creating a ledger record.
type CreateRequest struct {
	Source         string     `json:"source"`
	OrganizationID string     `json:"organization_id"`
	ToolName       string     `json:"tool_name"`
	RiskLevel      risk.Level `json:"risk_level"`
	Payload        Payload    `json:"payload"`
	// TTLSeconds nil means DefaultTTL; zero or negative means no expiry.
	TTLSeconds *int `json:"ttl_seconds,omitempty"`
}

// Normalize fills defaults and validates the risk level.
func (r *CreateRequest) Normalize() error {
	r.Source = strings.TrimSpace(r.Source)
	if r.Source == "" {
		r.Source = DefaultSource
	}
	r.OrganizationID = strings.TrimSpace(r.OrganizationID)
	if r.OrganizationID == "" {
		r.OrganizationID = DefaultOrganization
	}
	r.ToolName = strings.TrimSpace(r.ToolName)
	if r.ToolName == "" {
		return fmt.Errorf("%w: tool_name is required", domain.ErrValidation)
	}
	if r.RiskLevel == "" {
		r.RiskLevel = risk.Medium
	}
	if !r.RiskLevel.Valid() {
		return fmt.Errorf("%w: invalid risk_level %q", domain.ErrValidation, r.RiskLevel)
	}
	return nil
}

// TTL returns the record lifetime, zero meaning no expiry.
func (r *CreateRequest) TTL() time.Duration {
	if r.TTLSeconds == nil {
		return DefaultTTL
	}
	if *r.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(*r.TTLSeconds) * time.Second
}

// DecideRequest is the input for deciding a pending record.
type DecideRequest struct {
	Decision  Decision `json:"decision"`
	DecidedBy string   `json:"decided_by,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// Normalize validates the decision and fills DecidedBy.
func (r *DecideRequest) Normalize() error {
	d, err := ParseDecision(string(r.Decision))
	if err != nil {
		return err
	}
	r.Decision = d
	r.DecidedBy = strings.TrimSpace(r.DecidedBy)
	if r.DecidedBy == "" {
		r.DecidedBy = DefaultDecidedBy
	}
	return nil
}

// ListFilter narrows a ledger listing. Empty fields match everything.
type ListFilter struct {
	Status         Status `json:"status,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ToolName       string     `json:"tool_name,omitempty"`
	RiskLevel      risk.Level `json:"risk_level,omitempty"`
	Limit          int        `json:"limit,omitempty"`
}

// ClampedLimit returns Limit bounded to [1, MaxListLimit], DefaultListLimit when unset.
func (f ListFilter) ClampedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r passes the filter, ignoring the limit.
func (f ListFilter) Matches(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.OrganizationID != "" && r.OrganizationID != f.OrganizationID {
		return false
	}
	if f.SessionID != "" && r.Payload.SessionID != f.SessionID {
		return false
	}
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if f.RiskLevel != "" && r.RiskLevel != f.RiskLevel {
		return false
	}
	return true
}

// Notice is published when a record is decided so other processes can
// resolve local waiters without polling.
type Notice struct {
	RecordID         string    `json:"record_id"`
	OrganizationID   string    `json:"organization_id"`
	SessionID        string    `json:"session_id,omitempty"`
	DesktopRequestID string    `json:"desktop_request_id,omitempty"`
	Status           Status    `json:"status"`
	DecidedBy        string    `json:"decided_by,omitempty"`
	DecidedAt        time.Time `json:"decided_at"`
}

// NoticeFor builds a Notice from a decided record.
func NoticeFor(r *Record) Notice {
	return Notice{
		RecordID:         r.ID,
		OrganizationID:   r.OrganizationID,
		SessionID:        r.Payload.SessionID,
		DesktopRequestID: r.Payload.DesktopRequestID,
		Status:           r.Status,
		DecidedBy:        r.DecidedBy,
		DecidedAt:        r.UpdatedAt,
	}
}
