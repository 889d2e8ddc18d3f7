// Package executor defines the port for running desktop tools on the host.
package executor

import (
	"context"

	"github.com/Strob0t/deskgate/internal/domain/event"
)

// Executor runs an approved desktop tool. A returned error means the tool
// could not be invoked at all; tool-level failures come back as a result
// with Success false.
type Executor interface {
	Execute(ctx context.Context, tool string, input map[string]any) (event.ToolResult, error)
}
