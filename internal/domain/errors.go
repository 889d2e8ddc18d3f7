// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is no longer in a state that allows the
// requested change, for example a decision on an already-decided approval.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the caller supplied invalid input.
var ErrValidation = errors.New("validation failed")

// ErrTurnStopped indicates the turn is no longer streaming.
var ErrTurnStopped = fmt.Errorf("%w: turn is not active", ErrConflict)
