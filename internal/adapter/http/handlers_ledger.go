package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/middleware"
	"github.com/Strob0t/deskgate/internal/port/ledger"
)

// LedgerHandlers serves the approval ledger API.
type LedgerHandlers struct {
	Ledger    ledger.Client
	BodyLimit int64
}

func (h *LedgerHandlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return 1 << 20
}

// conflictResponse is the 409 body of a decision on a settled record.
type conflictResponse struct {
	Error  string           `json:"error"`
	Record *approval.Record `json:"record,omitempty"`
}

// CreateApproval handles POST /api/v1/approvals. The organization comes
// from the body, falling back to the X-Organization-ID header.
func (h *LedgerHandlers) CreateApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approval.CreateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.OrganizationID == "" {
		req.OrganizationID = middleware.OrganizationFromContext(r.Context())
	}
	rec, err := h.Ledger.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListApprovals handles GET /api/v1/approvals.
func (h *LedgerHandlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := approval.ListFilter{
		Status:         approval.Status(q.Get("status")),
		OrganizationID: q.Get("organization_id"),
		SessionID:      q.Get("session_id"),
		ToolName:       q.Get("tool_name"),
		RiskLevel:      risk.Level(q.Get("risk_level")),
	}
	if highRiskOnly(q) {
		filter.RiskLevel = risk.High
	}
	if filter.RiskLevel != "" && !filter.RiskLevel.Valid() {
		writeError(w, http.StatusBadRequest, "invalid risk_level")
		return
	}
	if filter.OrganizationID == "" {
		filter.OrganizationID = middleware.OrganizationFromContext(r.Context())
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = n
	}

	recs, err := h.Ledger.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	if recs == nil {
		recs = []approval.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetApproval handles GET /api/v1/approvals/{id}.
func (h *LedgerHandlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DecideApproval handles POST /api/v1/approvals/{id}/decide. Deciding a
// record that already left pending answers 409 with the stored record.
func (h *LedgerHandlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approval.DecideRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	rec, err := h.Ledger.Decide(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeJSON(w, http.StatusConflict, conflictResponse{
				Error:  "approval is already " + statusOf(rec),
				Record: rec,
			})
			return
		}
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func statusOf(rec *approval.Record) string {
	if rec == nil {
		return "decided"
	}
	return string(rec.Status)
}
