package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/port/ledger"
	"github.com/Strob0t/deskgate/internal/port/messagequeue"
)

// Reconciler resolves local waiters whose ledger record was decided
// elsewhere, for example from the approval panel of another session, or
// expired by the ledger. It polls the ledger and, when a queue is
// configured, also reacts to decision notices.
type Reconciler struct {
	ledger   ledger.Client
	registry *Registry
	links    *Links
	orgID    string
	interval time.Duration
}

// NewReconciler creates a reconciler.
func NewReconciler(client ledger.Client, registry *Registry, links *Links, orgID string, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Reconciler{
		ledger:   client,
		registry: registry,
		links:    links,
		orgID:    orgID,
		interval: interval,
	}
}

// Run polls until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := r.Sync(ctx); err != nil {
				slog.Debug("ledger reconcile failed", "error", err)
			} else if n > 0 {
				slog.Info("ledger reconcile resolved requests", "count", n)
			}
		}
	}
}

// Sync lists the ledger once for every session with a pending linked
// request and resolves the requests whose record is no longer pending.
// It returns how many requests were resolved.
func (r *Reconciler) Sync(ctx context.Context) (int, error) {
	sessions := make(map[string]struct{})
	for _, link := range r.links.All() {
		if r.registry.Pending(link.RequestID) {
			sessions[link.SessionID] = struct{}{}
		}
	}

	resolved := 0
	for session := range sessions {
		records, err := r.ledger.List(ctx, approval.ListFilter{
			OrganizationID: r.orgID,
			SessionID:      session,
			Limit:          approval.MaxListLimit,
		})
		if err != nil {
			return resolved, fmt.Errorf("list ledger records for session %s: %w", session, err)
		}
		for i := range records {
			if r.apply(&records[i]) {
				resolved++
			}
		}
	}
	return resolved, nil
}

// HandleNotice is a messagequeue.Handler for approvals.decided.
func (r *Reconciler) HandleNotice(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	var n messagequeue.ApprovalDecidedPayload
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode approval notice: %w", err)
	}
	r.apply(&approval.Record{ID: n.RecordID, Status: n.Status, DecidedBy: n.DecidedBy})
	return nil
}

// Subscribe registers HandleNotice on the decision subject.
func (r *Reconciler) Subscribe(ctx context.Context, q messagequeue.Queue) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectApprovalDecided, r.HandleNotice)
}

// apply resolves the local request linked to rec if rec has left the
// pending state. An expired record denies the request.
func (r *Reconciler) apply(rec *approval.Record) bool {
	if !rec.Decided() {
		return false
	}
	requestID, ok := r.links.Local(rec.ID)
	if !ok {
		return false
	}
	out := Outcome{Approved: rec.Approved(), Source: approval.SourceLedger, Recorded: true}
	if !r.registry.Resolve(requestID, out) {
		return false
	}
	slog.Info("request resolved from ledger",
		"request_id", requestID,
		"record_id", rec.ID,
		"status", rec.Status,
		"decided_by", rec.DecidedBy,
	)
	return true
}
