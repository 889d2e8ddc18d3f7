// Package turncache stores finished turn snapshots and replayable HTTP
// responses on top of the byte cache port.
package turncache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/deskgate/internal/domain/turn"
	"github.com/Strob0t/deskgate/internal/middleware"
	"github.com/Strob0t/deskgate/internal/port/cache"
	"github.com/Strob0t/deskgate/internal/port/history"
)

const (
	turnPrefix        = "turn."
	idempotencyPrefix = "idem."
)

var (
	_ history.Store               = (*History)(nil)
	_ middleware.IdempotencyStore = (*Idempotency)(nil)
)

// History implements history.Store as JSON snapshots keyed by turn ID.
type History struct {
	c cache.Cache
}

// NewHistory wraps c.
func NewHistory(c cache.Cache) *History {
	return &History{c: c}
}

// Put stores a snapshot of t.
func (h *History) Put(ctx context.Context, t *turn.Turn, ttl time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal turn %s: %w", t.ID, err)
	}
	return h.c.Set(ctx, turnPrefix+t.ID, data, ttl)
}

// Get returns the snapshot for id.
func (h *History) Get(ctx context.Context, id string) (*turn.Turn, bool, error) {
	data, ok, err := h.c.Get(ctx, turnPrefix+id)
	if err != nil || !ok {
		return nil, false, err
	}
	var t turn.Turn
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, false, fmt.Errorf("decode turn %s: %w", id, err)
	}
	return &t, true, nil
}

// Delete removes the snapshot for id.
func (h *History) Delete(ctx context.Context, id string) error {
	return h.c.Delete(ctx, turnPrefix+id)
}

// Idempotency implements middleware.IdempotencyStore with a fixed TTL.
type Idempotency struct {
	c   cache.Cache
	ttl time.Duration
}

// NewIdempotency wraps c. Stored responses expire after ttl.
func NewIdempotency(c cache.Cache, ttl time.Duration) *Idempotency {
	return &Idempotency{c: c, ttl: ttl}
}

// Load returns the stored response for key.
func (s *Idempotency) Load(ctx context.Context, key string) ([]byte, bool, error) {
	return s.c.Get(ctx, idempotencyPrefix+key)
}

// Save stores a response under key.
func (s *Idempotency) Save(ctx context.Context, key string, value []byte) error {
	return s.c.Set(ctx, idempotencyPrefix+key, value, s.ttl)
}
