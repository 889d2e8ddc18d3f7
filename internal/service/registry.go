package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
)

// Outcome is the decision delivered to a suspended consumer.
type Outcome struct {
	Approved bool
	Source   approval.Source
	// Recorded is set when the ledger already holds this decision, so the
	// consumer must not write it back again.
	Recorded bool
}

// slot is a one-shot completion handle for one pending request.
type slot struct {
	turnID string
	ch     chan Outcome
}

// turnGate is the per-turn gating state.
type turnGate struct {
	approveAll bool
	closed     bool
}

// Registry correlates pending desktop requests with the decision that
// unblocks them. Every slot is resolved exactly once: whichever path claims
// it first wins and later attempts are no-ops.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
	turns map[string]*turnGate
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]*slot),
		turns: make(map[string]*turnGate),
	}
}

// BeginTurn resets the gating state of turnID. The approve-all flag never
// carries over from a previous turn.
func (r *Registry) BeginTurn(turnID string) {
	r.mu.Lock()
	r.turns[turnID] = &turnGate{}
	r.mu.Unlock()
}

// EndTurn forgets the gating state of turnID. Slots still pending remain
// resolvable so a user mid-decision is not stranded.
func (r *Registry) EndTurn(turnID string) {
	r.mu.Lock()
	delete(r.turns, turnID)
	r.mu.Unlock()
}

// Register creates the slot for requestID. When the turn already approves
// everything, or has been stopped, the outcome is returned immediately and
// no slot is created; pending is false in that case. The check and the
// insert happen under one lock so a concurrent SetApproveAll cannot slip in
// between them.
func (r *Registry) Register(turnID, requestID string) (<-chan Outcome, bool, error) {
	ch := make(chan Outcome, 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.slots[requestID]; dup {
		return nil, false, errAlreadyPending(requestID)
	}
	if g := r.turns[turnID]; g != nil {
		switch {
		case g.closed:
			ch <- Outcome{Approved: false, Source: approval.SourceStop}
			return ch, false, nil
		case g.approveAll:
			ch <- Outcome{Approved: true, Source: approval.SourceAuto}
			return ch, false, nil
		}
	}
	r.slots[requestID] = &slot{turnID: turnID, ch: ch}
	return ch, true, nil
}

// Claim removes the slot for requestID and returns its delivery function.
// Only the caller that receives ok == true may deliver. Callers claim first
// and deliver after any ledger write-back, so two decision paths never both
// act on the same request.
func (r *Registry) Claim(requestID string) (deliver func(Outcome), ok bool) {
	r.mu.Lock()
	s, ok := r.slots[requestID]
	if ok {
		delete(r.slots, requestID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	return func(o Outcome) { s.ch <- o }, true
}

// Resolve delivers o to the slot for requestID. It reports false without
// error when the slot is absent or already resolved.
func (r *Registry) Resolve(requestID string, o Outcome) bool {
	deliver, ok := r.Claim(requestID)
	if !ok {
		slog.Debug("decision for unknown or resolved request ignored", "request_id", requestID, "source", o.Source)
		return false
	}
	deliver(o)
	return true
}

// SetApproveAll toggles blanket approval for turnID. Turning it on resolves
// every slot already pending in that turn as approved and returns their
// request IDs.
func (r *Registry) SetApproveAll(turnID string, on bool) ([]string, error) {
	r.mu.Lock()
	g := r.turns[turnID]
	if g == nil || g.closed {
		r.mu.Unlock()
		return nil, domain.ErrTurnStopped
	}
	g.approveAll = on
	var claimed []*slot
	var ids []string
	if on {
		claimed, ids = r.takeTurnLocked(turnID)
	}
	r.mu.Unlock()

	for _, s := range claimed {
		s.ch <- Outcome{Approved: true, Source: approval.SourceAuto}
	}
	return ids, nil
}

// ApproveAll reports whether blanket approval is active for turnID.
func (r *Registry) ApproveAll(turnID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.turns[turnID]
	return g != nil && g.approveAll
}

// CloseTurn marks turnID stopped. Pending slots of the turn resolve as
// denied and later registrations fail fast with a denial.
func (r *Registry) CloseTurn(turnID string) []string {
	r.mu.Lock()
	g := r.turns[turnID]
	if g == nil {
		g = &turnGate{}
		r.turns[turnID] = g
	}
	g.closed = true
	g.approveAll = false
	claimed, ids := r.takeTurnLocked(turnID)
	r.mu.Unlock()

	for _, s := range claimed {
		s.ch <- Outcome{Approved: false, Source: approval.SourceStop}
	}
	return ids
}

// Pending reports whether requestID is awaiting a decision.
func (r *Registry) Pending(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[requestID]
	return ok
}

// PendingIDs returns the pending request IDs of turnID, or of every turn
// when turnID is empty.
func (r *Registry) PendingIDs(turnID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, s := range r.slots {
		if turnID == "" || s.turnID == turnID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) takeTurnLocked(turnID string) ([]*slot, []string) {
	var claimed []*slot
	var ids []string
	for id, s := range r.slots {
		if s.turnID == turnID {
			claimed = append(claimed, s)
			ids = append(ids, id)
			delete(r.slots, id)
		}
	}
	return claimed, ids
}

func errAlreadyPending(requestID string) error {
	return fmt.Errorf("%w: request %s is already pending", domain.ErrConflict, requestID)
}
