package messagequeue

import "github.com/Strob0t/deskgate/internal/domain/approval"

// ApprovalCreatedPayload is published on approvals.created.
type ApprovalCreatedPayload struct {
	RecordID         string `json:"record_id"`
	OrganizationID   string `json:"organization_id"`
	SessionID        string `json:"session_id,omitempty"`
	DesktopRequestID string `json:"desktop_request_id,omitempty"`
	ToolName         string `json:"tool_name"`
	RiskLevel        string `json:"risk_level"`
}

// ApprovalDecidedPayload is published on approvals.decided.
type ApprovalDecidedPayload = approval.Notice

// ApprovalExpiredPayload is published on approvals.expired.
type ApprovalExpiredPayload struct {
	Count int64 `json:"count"`
}
