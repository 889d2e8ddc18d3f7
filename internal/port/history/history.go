// Package history defines the port for caching finished turn snapshots.
package history

import (
	"context"
	"time"

	"github.com/Strob0t/deskgate/internal/domain/turn"
)

// Store keeps turn snapshots after the turn consumer has exited.
type Store interface {
	Put(ctx context.Context, t *turn.Turn, ttl time.Duration) error
	Get(ctx context.Context, id string) (*turn.Turn, bool, error)
	Delete(ctx context.Context, id string) error
}
