package http

import (
	"net/http"
	"strings"

	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/domain/turn"
	"github.com/Strob0t/deskgate/internal/service"
)

// Handlers serves the gate daemon API used by the desktop shell and the
// dialog: turns, decisions, policies and the event socket.
type Handlers struct {
	Turns     *service.TurnService
	Gate      *service.Gate
	Policies  *service.PolicyState
	Hub       *ws.Hub
	BodyLimit int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return 1 << 20
}

// StartTurn handles POST /api/v1/turns.
func (h *Handlers) StartTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[turn.StartRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	t, err := h.Turns.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "turn not found")
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// ListTurns handles GET /api/v1/turns.
func (h *Handlers) ListTurns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Turns.Active())
}

// GetTurn handles GET /api/v1/turns/{id}.
func (h *Handlers) GetTurn(w http.ResponseWriter, r *http.Request) {
	t, err := h.Turns.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "turn not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// StopTurn handles POST /api/v1/turns/{id}/stop.
func (h *Handlers) StopTurn(w http.ResponseWriter, r *http.Request) {
	if err := h.Turns.Stop(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "turn not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(turn.StatusStopped)})
}

type approveAllRequest struct {
	Enabled bool `json:"enabled"`
}

// ApproveAll handles POST /api/v1/turns/{id}/approve-all.
func (h *Handlers) ApproveAll(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approveAllRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	ids, err := h.Turns.ApproveAll(r.Context(), urlParam(r, "id"), req.Enabled)
	if err != nil {
		writeDomainError(w, err, "turn not found")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled, "approved": ids})
}

type decisionRequest struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	DecidedBy string `json:"decided_by,omitempty"`
	Note      string `json:"note,omitempty"`
}

type decisionResponse struct {
	Resolved bool `json:"resolved"`
}

// Decide handles POST /api/v1/decisions, the dialog's verdict on a request.
// A request that is no longer pending answers resolved=false.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, strings.TrimSpace(req.RequestID), "request_id") {
		return
	}
	d, err := approval.ParseDecision(req.Decision)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	resolved, err := h.Gate.Decide(r.Context(), req.RequestID, d == approval.DecisionApproved, approval.SourceDialog, req.DecidedBy, req.Note)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Resolved: resolved})
}

// DecideRecord handles POST /api/v1/approvals/{id}/decide, a decision made
// against a ledger record ID from the approvals panel.
func (h *Handlers) DecideRecord(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approval.DecideRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := req.Normalize(); err != nil {
		writeDomainError(w, err, "")
		return
	}
	resolved, err := h.Gate.DecideRecord(r.Context(), urlParam(r, "id"), req.Decision == approval.DecisionApproved, approval.SourcePanel, req.DecidedBy, req.Note)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Resolved: resolved})
}

// ListPending handles GET /api/v1/pending.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level := risk.Level(q.Get("risk_level"))
	if highRiskOnly(q) {
		level = risk.High
	}
	if level != "" && !level.Valid() {
		writeError(w, http.StatusBadRequest, "invalid risk_level")
		return
	}
	writeJSON(w, http.StatusOK, service.FilterPending(h.Turns.Pending(q.Get("session_id")), q.Get("tool"), level))
}

// GetPolicy handles GET /api/v1/policy.
func (h *Handlers) GetPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Policies.Settings())
}

// ReplacePolicy handles PUT /api/v1/policy.
func (h *Handlers) ReplacePolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[policy.Settings](w, r, h.bodyLimit())
	if !ok {
		return
	}
	s, err := h.Policies.Replace(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type policyValue struct {
	Policy policy.Policy `json:"policy"`
}

// SetGlobalPolicy handles PUT /api/v1/policy/global.
func (h *Handlers) SetGlobalPolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[policyValue](w, r, h.bodyLimit())
	if !ok {
		return
	}
	s, err := h.Policies.SetGlobal(r.Context(), req.Policy)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SetToolPolicy handles PUT /api/v1/policy/tools/{tool}.
func (h *Handlers) SetToolPolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[policyValue](w, r, h.bodyLimit())
	if !ok {
		return
	}
	s, err := h.Policies.SetOverride(r.Context(), urlParam(r, "tool"), req.Policy)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// EvaluatePolicy handles GET /api/v1/policy/evaluate?tool=, a preview of
// the risk and gating a call to tool would get.
func (h *Handlers) EvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	if !requireField(w, tool, "tool") {
		return
	}
	writeJSON(w, http.StatusOK, h.Policies.Evaluate(tool, nil))
}
