// Package ledger defines the port for the remote approval ledger.
package ledger

import (
	"context"

	"github.com/Strob0t/deskgate/internal/domain/approval"
)

// Client talks to the approval ledger. Decide returns the current record
// together with an error wrapping domain.ErrConflict when the record has
// already left the pending state.
type Client interface {
	Create(ctx context.Context, req approval.CreateRequest) (*approval.Record, error)
	Get(ctx context.Context, id string) (*approval.Record, error)
	Decide(ctx context.Context, id string, req approval.DecideRequest) (*approval.Record, error)
	List(ctx context.Context, filter approval.ListFilter) ([]approval.Record, error)
}
