// Package database defines the persistence port for the approval ledger.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/deskgate/internal/domain/approval"
)

// LedgerStore persists approval records.
type LedgerStore interface {
	// CreateApproval inserts a new record. ID and timestamps are set by the caller.
	CreateApproval(ctx context.Context, r *approval.Record) error

	// GetApproval returns a record or an error wrapping domain.ErrNotFound.
	GetApproval(ctx context.Context, id string) (*approval.Record, error)

	// ListApprovals returns records matching filter, newest first, at most
	// filter.ClampedLimit() entries.
	ListApprovals(ctx context.Context, filter approval.ListFilter) ([]approval.Record, error)

	// DecideApproval atomically moves a pending record to approved or denied.
	// If the record is not pending it returns the current record and an
	// error wrapping domain.ErrConflict.
	DecideApproval(ctx context.Context, id string, req approval.DecideRequest, now time.Time) (*approval.Record, error)

	// ExpireApprovals marks pending records whose expiry is at or before now
	// as expired and returns how many changed.
	ExpireApprovals(ctx context.Context, now time.Time) (int64, error)
}
