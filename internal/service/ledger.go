package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/port/database"
	"github.com/Strob0t/deskgate/internal/port/ledger"
	"github.com/Strob0t/deskgate/internal/port/messagequeue"
)

var _ ledger.Client = (*LedgerService)(nil)

// LedgerService is the server side of the approval ledger. Records start
// pending and move exactly once to approved, denied or expired.
type LedgerService struct {
	store database.LedgerStore
	queue messagequeue.Queue
	now   func() time.Time
}

// NewLedgerService creates a ledger service. queue may be nil.
func NewLedgerService(store database.LedgerStore, queue messagequeue.Queue) *LedgerService {
	return &LedgerService{
		store: store,
		queue: queue,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new pending record.
func (s *LedgerService) Create(ctx context.Context, req approval.CreateRequest) (*approval.Record, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	now := s.now()
	r := &approval.Record{
		ID:             uuid.NewString(),
		Source:         req.Source,
		OrganizationID: req.OrganizationID,
		ToolName:       req.ToolName,
		RiskLevel:      req.RiskLevel,
		Status:         approval.StatusPending,
		Payload:        req.Payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ttl := req.TTL(); ttl > 0 {
		exp := now.Add(ttl)
		r.ExpiresAt = &exp
	}

	if err := s.store.CreateApproval(ctx, r); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	slog.Info("approval created",
		"record_id", r.ID,
		"organization_id", r.OrganizationID,
		"tool", r.ToolName,
		"risk", r.RiskLevel,
	)
	s.publish(ctx, messagequeue.SubjectApprovalCreated, messagequeue.ApprovalCreatedPayload{
		RecordID:         r.ID,
		OrganizationID:   r.OrganizationID,
		SessionID:        r.Payload.SessionID,
		DesktopRequestID: r.Payload.DesktopRequestID,
		ToolName:         r.ToolName,
		RiskLevel:        string(r.RiskLevel),
	})
	return r, nil
}

// Get returns one record, expiring stale pending records first.
func (s *LedgerService) Get(ctx context.Context, id string) (*approval.Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	s.expire(ctx)
	return s.store.GetApproval(ctx, id)
}

// List returns records matching filter, newest first.
func (s *LedgerService) List(ctx context.Context, filter approval.ListFilter) ([]approval.Record, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, filter.Status)
	}
	if filter.RiskLevel != "" && !filter.RiskLevel.Valid() {
		return nil, fmt.Errorf("%w: invalid risk_level %q", domain.ErrValidation, filter.RiskLevel)
	}
	filter.Limit = filter.ClampedLimit()
	s.expire(ctx)
	return s.store.ListApprovals(ctx, filter)
}

// Decide approves or denies a pending record. Deciding a record that is no
// longer pending returns it together with an error wrapping
// domain.ErrConflict.
func (s *LedgerService) Decide(ctx context.Context, id string, req approval.DecideRequest) (*approval.Record, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	s.expire(ctx)

	r, err := s.store.DecideApproval(ctx, id, req, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return r, err
		}
		return nil, err
	}
	slog.Info("approval decided",
		"record_id", r.ID,
		"status", r.Status,
		"decided_by", r.DecidedBy,
	)
	s.publish(ctx, messagequeue.SubjectApprovalDecided, approval.NoticeFor(r))
	return r, nil
}

// ExpireStale marks pending records past their expiry as expired.
func (s *LedgerService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireApprovals(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	if n > 0 {
		slog.Info("approvals expired", "count", n)
		s.publish(ctx, messagequeue.SubjectApprovalExpired, messagequeue.ApprovalExpiredPayload{Count: n})
	}
	return n, nil
}

// RunExpiry expires stale records every interval until ctx is cancelled.
func (s *LedgerService) RunExpiry(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil {
				slog.Warn("approval expiry failed", "error", err)
			}
		}
	}
}

func (s *LedgerService) expire(ctx context.Context) {
	if _, err := s.ExpireStale(ctx); err != nil {
		slog.Warn("lazy approval expiry failed", "error", err)
	}
}

func (s *LedgerService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ledger event", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish ledger event failed", "subject", subject, "error", err)
	}
}

// checkID rejects ids that cannot name a record. Record ids are UUIDs, so
// anything else is reported as not found instead of reaching the store.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
