package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/deskgate/internal/adapter/otel"
	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/port/ledger"
)

// GateConfig holds the ledger-related settings of the gate.
type GateConfig struct {
	OrganizationID string
	Source         string
	TTL            time.Duration
	// LedgerTimeout bounds each ledger call made on behalf of a decision.
	LedgerTimeout time.Duration
}

// Gate bridges decisions between the local registry and the remote ledger.
// A decision from any path is claimed in the registry first, written to the
// ledger if the request is linked, and only then delivered to the waiting
// consumer. The ledger is optional; without it gating is purely local.
type Gate struct {
	registry *Registry
	links    *Links
	ledger   ledger.Client
	metrics  *cfotel.Metrics
	cfg      GateConfig
}

// NewGate creates a gate. client may be nil to disable the remote ledger.
func NewGate(registry *Registry, links *Links, client ledger.Client, metrics *cfotel.Metrics, cfg GateConfig) *Gate {
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 5 * time.Second
	}
	return &Gate{
		registry: registry,
		links:    links,
		ledger:   client,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Registry returns the correlation registry the gate resolves.
func (g *Gate) Registry() *Registry { return g.registry }

// Links returns the local to remote join table.
func (g *Gate) Links() *Links { return g.links }

// LedgerEnabled reports whether a remote ledger is configured.
func (g *Gate) LedgerEnabled() bool { return g.ledger != nil }

// Request describes a desktop tool request entering the gate.
type Request struct {
	TurnID      string
	SessionID   string
	RequestID   string
	Tool        string
	Input       map[string]any
	Description string
	Eval        policy.Evaluation
}

// Open records the request in the ledger and links it to the local request
// ID. It returns an empty record ID without error when no ledger is
// configured. On failure nothing is linked and the caller continues with
// local-only gating.
func (g *Gate) Open(ctx context.Context, req Request) (string, error) {
	if g.ledger == nil {
		return "", nil
	}

	ttl := int(g.cfg.TTL / time.Second)
	ctx, cancel := context.WithTimeout(ctx, g.cfg.LedgerTimeout)
	defer cancel()

	lvl := req.Eval.Risk
	if lvl == "" {
		lvl = risk.Classify(req.Tool, req.Input)
	}
	rec, err := g.ledger.Create(ctx, approval.CreateRequest{
		Source:         g.cfg.Source,
		OrganizationID: g.cfg.OrganizationID,
		ToolName:       req.Tool,
		RiskLevel:      lvl,
		Payload: approval.Payload{
			SessionID:        req.SessionID,
			TurnID:           req.TurnID,
			DesktopRequestID: req.RequestID,
			Description:      req.Description,
			Input:            req.Input,
		},
		TTLSeconds: &ttl,
	})
	if err != nil {
		g.metrics.LedgerFailure(ctx, "create")
		return "", fmt.Errorf("create ledger record for %s: %w", req.RequestID, err)
	}

	g.links.Add(Link{
		RequestID: req.RequestID,
		RecordID:  rec.ID,
		TurnID:    req.TurnID,
		SessionID: req.SessionID,
	})
	return rec.ID, nil
}

// Decide resolves a pending request. It reports false, without error, when
// the request is not pending: already decided through another path, or
// never gated. If the ledger already holds a different verdict for the
// linked record, the ledger wins and the consumer receives that verdict.
// A failed write-back is delivered with Recorded unset so the consumer can
// retry it and warn.
func (g *Gate) Decide(ctx context.Context, requestID string, approved bool, src approval.Source, decidedBy, note string) (bool, error) {
	deliver, ok := g.registry.Claim(requestID)
	if !ok {
		slog.Debug("decision ignored, request not pending", "request_id", requestID, "source", src)
		return false, nil
	}

	out := Outcome{Approved: approved, Source: src, Recorded: true}
	if rec, err := g.Record(ctx, requestID, approved, src, decidedBy, note); err != nil {
		slog.Warn("ledger write-back failed, decision applied locally",
			"request_id", requestID, "source", src, "error", err)
		out.Recorded = false
	} else if rec != nil && rec.Status != approval.DecisionFor(approved).Status() {
		slog.Info("ledger holds a different decision, adopting it",
			"request_id", requestID, "record_id", rec.ID, "status", rec.Status)
		out.Approved = rec.Approved()
		out.Source = approval.SourceLedger
	}

	deliver(out)
	return true, nil
}

// DecideRecord resolves the local request linked to a ledger record. For a
// record with no local waiter the decision goes straight to the ledger.
func (g *Gate) DecideRecord(ctx context.Context, recordID string, approved bool, src approval.Source, decidedBy, note string) (bool, error) {
	if requestID, ok := g.links.Local(recordID); ok {
		return g.Decide(ctx, requestID, approved, src, decidedBy, note)
	}
	if g.ledger == nil {
		return false, fmt.Errorf("approval record %s: %w", recordID, domain.ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.LedgerTimeout)
	defer cancel()
	_, err := g.ledger.Decide(ctx, recordID, approval.DecideRequest{
		Decision:  approval.DecisionFor(approved),
		DecidedBy: decidedByOr(decidedBy, src),
		Note:      note,
	})
	return false, err
}

// Record writes a decision for requestID to the ledger when the request is
// linked. It returns the ledger's record, which on conflict carries the
// verdict already stored there. Unlinked requests return nil, nil. The
// write outlives ctx's cancellation, bounded by the ledger timeout.
func (g *Gate) Record(ctx context.Context, requestID string, approved bool, src approval.Source, decidedBy, note string) (*approval.Record, error) {
	if g.ledger == nil {
		return nil, nil
	}
	recordID, ok := g.links.Remote(requestID)
	if !ok {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.LedgerTimeout)
	defer cancel()

	rec, err := g.ledger.Decide(ctx, recordID, approval.DecideRequest{
		Decision:  approval.DecisionFor(approved),
		DecidedBy: decidedByOr(decidedBy, src),
		Note:      note,
	})
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, domain.ErrConflict) && rec != nil:
		return rec, nil
	default:
		g.metrics.LedgerFailure(ctx, "decide")
		return nil, fmt.Errorf("decide ledger record %s: %w", recordID, err)
	}
}

// Forget drops the link of a finished request.
func (g *Gate) Forget(requestID string) {
	g.links.Remove(requestID)
}

func decidedByOr(decidedBy string, src approval.Source) string {
	if decidedBy != "" {
		return decidedBy
	}
	return string(src)
}
