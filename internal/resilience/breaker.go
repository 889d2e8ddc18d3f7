// Package resilience provides reliability patterns for calls to the
// remote approval ledger.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureFilter sets which errors count as failures. By default every
// non-nil error counts except context cancellation.
func WithFailureFilter(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// WithStateChange registers a callback invoked (outside the lock) on every
// state transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker opens after maxFailures consecutive failures and rejects calls
// until timeout elapses. Then one trial call is let through in half-open.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	probing     bool
	isFailure   func(error) bool
	onChange    func(from, to State)
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker.
func NewBreaker(maxFailures int, timeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		isFailure:   defaultIsFailure,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn if the circuit allows it. Returns ErrCircuitOpen otherwise.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, ok := b.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}
	b.notify(from)

	err := fn(ctx)

	b.mu.Lock()
	before := b.state
	if err != nil && b.isFailure(err) {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	after := b.state
	b.mu.Unlock()

	if before != after && b.onChange != nil {
		b.onChange(before, after)
	}
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allowRequest reports whether a call may proceed and the state before any
// transition it caused.
func (b *Breaker) allowRequest() (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return StateClosed, true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
			b.probing = true
			return StateOpen, true
		}
		return StateOpen, false
	case StateHalfOpen:
		if b.probing {
			return StateHalfOpen, false
		}
		b.probing = true
		return StateHalfOpen, true
	}
	return b.state, false
}

func (b *Breaker) notify(from State) {
	if from == StateOpen && b.onChange != nil {
		b.onChange(StateOpen, StateHalfOpen)
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.probing = false
	b.state = StateClosed
}
