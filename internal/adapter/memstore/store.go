// Package memstore implements database.LedgerStore in memory. It backs the
// ledger server when no Postgres DSN is configured and is used in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/port/database"
)

var _ database.LedgerStore = (*Store)(nil)

// Store holds approval records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[string]*approval.Record
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]*approval.Record)}
}

func clone(r *approval.Record) *approval.Record {
	c := *r
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// CreateApproval inserts r.
func (s *Store) CreateApproval(_ context.Context, r *approval.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("approval %s: %w", r.ID, domain.ErrConflict)
	}
	s.records[r.ID] = clone(r)
	return nil
}

// GetApproval returns a copy of the record with the given id.
func (s *Store) GetApproval(_ context.Context, id string) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	return clone(r), nil
}

// ListApprovals returns matching records, newest first.
func (s *Store) ListApprovals(_ context.Context, filter approval.ListFilter) ([]approval.Record, error) {
	s.mu.Lock()
	out := make([]approval.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, *clone(r))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := filter.ClampedLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DecideApproval moves a pending record to the decided status.
func (s *Store) DecideApproval(_ context.Context, id string, req approval.DecideRequest, now time.Time) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	if r.Status != approval.StatusPending {
		return clone(r), fmt.Errorf("approval %s is %s: %w", id, r.Status, domain.ErrConflict)
	}
	r.Status = req.Decision.Status()
	r.DecidedBy = req.DecidedBy
	r.DecisionNote = req.Note
	r.UpdatedAt = now
	return clone(r), nil
}

// ExpireApprovals expires pending records whose deadline has passed.
func (s *Store) ExpireApprovals(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.records {
		if r.Expired(now) {
			r.Status = approval.StatusExpired
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}
