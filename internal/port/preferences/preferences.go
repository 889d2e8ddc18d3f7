// Package preferences defines the port for persisting approval policies.
package preferences

import (
	"context"

	"github.com/Strob0t/deskgate/internal/domain/policy"
)

// Store loads and saves the user's policy settings. Load returns the default
// settings when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (policy.Settings, error)
	Save(ctx context.Context, s policy.Settings) error
}
