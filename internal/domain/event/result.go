package event

// DeniedMessage is the error reported to the backend and shown on the
// timeline when a privileged call is rejected.
const DeniedMessage = "denied"

// StoppedMessage is used when a pending call is rejected because the turn was stopped.
const StoppedMessage = "turn stopped before approval"

// maxSummaryRunes bounds the success message shown on a timeline record.
const maxSummaryRunes = 200

// ToolResult is the outcome of a desktop tool execution, posted back to the
// agent backend so the model can continue.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Denied returns the result submitted for a rejected call.
func Denied(reason string) ToolResult {
	if reason == "" {
		reason = DeniedMessage
	}
	return ToolResult{Success: false, Content: "", Error: reason}
}

// Failed returns a result for an execution error.
func Failed(err error) ToolResult {
	return ToolResult{Success: false, Content: "", Error: err.Error()}
}

// Summary is the short text shown on the timeline: the content truncated to
// 200 characters on success, the error otherwise.
func (r ToolResult) Summary() string {
	if !r.Success {
		return r.Error
	}
	runes := []rune(r.Content)
	if len(runes) <= maxSummaryRunes {
		return r.Content
	}
	return string(runes[:maxSummaryRunes])
}
