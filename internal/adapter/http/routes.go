package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/deskgate/internal/middleware"
)

const version = `{"version":"0.1.0"}`

func writeVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(version))
}

func writeHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MountRoutes registers the gate daemon API on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", writeHealth)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", writeVersion)

		// Turns
		r.Post("/turns", h.StartTurn)
		r.Get("/turns", h.ListTurns)
		r.Get("/turns/{id}", h.GetTurn)
		r.Post("/turns/{id}/stop", h.StopTurn)
		r.Post("/turns/{id}/approve-all", h.ApproveAll)

		// Decisions
		r.Get("/pending", h.ListPending)
		r.Post("/decisions", h.Decide)
		r.Post("/approvals/{id}/decide", h.DecideRecord)

		// Policies
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.ReplacePolicy)
		r.Put("/policy/global", h.SetGlobalPolicy)
		r.Put("/policy/tools/{tool}", h.SetToolPolicy)
		r.Get("/policy/evaluate", h.EvaluatePolicy)
	})
}

// MountLedgerRoutes registers the approval ledger API on r. Mutations are
// deduplicated by Idempotency-Key when store is non-nil.
func MountLedgerRoutes(r chi.Router, h *LedgerHandlers, store middleware.IdempotencyStore) {
	r.Get("/health", writeHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Organization)
		if store != nil {
			r.Use(middleware.Idempotency(store))
		}
		r.Get("/", writeVersion)

		r.Post("/approvals", h.CreateApproval)
		r.Get("/approvals", h.ListApprovals)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/decide", h.DecideApproval)
	})
}
