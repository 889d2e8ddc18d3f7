package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/deskgate/internal/adapter/ws"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/port/broadcast"
	"github.com/Strob0t/deskgate/internal/port/preferences"
)

// PolicyState owns the global policy and the per-tool overrides. Every
// gating decision reads it afresh, so a change applies to the next request
// and never to one already suspended.
type PolicyState struct {
	mu       sync.RWMutex
	settings policy.Settings
	store    preferences.Store
	hub      broadcast.Broadcaster
}

// NewPolicyState creates a policy state starting from the defaults.
// store and hub may be nil.
func NewPolicyState(store preferences.Store, hub broadcast.Broadcaster) *PolicyState {
	return &PolicyState{
		settings: policy.DefaultSettings(),
		store:    store,
		hub:      hub,
	}
}

// Load replaces the in-memory settings with the persisted ones.
func (p *PolicyState) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	s, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load policy preferences: %w", err)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("load policy preferences: %w", err)
	}
	p.mu.Lock()
	p.settings = s.Clone()
	p.mu.Unlock()
	slog.Info("policy preferences loaded", "global", s.Global, "overrides", len(s.Overrides))
	return nil
}

// Settings returns a copy of the current settings.
func (p *PolicyState) Settings() policy.Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Clone()
}

// Evaluate classifies a request and applies the current settings.
func (p *PolicyState) Evaluate(tool string, input map[string]any) policy.Evaluation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Evaluate(tool, input)
}

// SetGlobal changes the global policy.
func (p *PolicyState) SetGlobal(ctx context.Context, g policy.Policy) (policy.Settings, error) {
	if err := policy.ValidateGlobal(g); err != nil {
		return policy.Settings{}, err
	}
	return p.update(ctx, func(s policy.Settings) policy.Settings {
		s.Global = g
		return s
	})
}

// SetOverride sets the override for tool. Inherit removes it.
func (p *PolicyState) SetOverride(ctx context.Context, tool string, v policy.Policy) (policy.Settings, error) {
	if err := policy.ValidateOverride(tool, v); err != nil {
		return policy.Settings{}, err
	}
	return p.update(ctx, func(s policy.Settings) policy.Settings {
		return s.WithOverride(tool, v)
	})
}

// Replace swaps in a complete set of settings.
func (p *PolicyState) Replace(ctx context.Context, next policy.Settings) (policy.Settings, error) {
	if next.Global == "" {
		next.Global = policy.Default
	}
	if err := next.Validate(); err != nil {
		return policy.Settings{}, err
	}
	return p.update(ctx, func(policy.Settings) policy.Settings {
		out := next.Clone()
		for tool, v := range out.Overrides {
			if v == policy.Inherit {
				delete(out.Overrides, tool)
			}
		}
		return out
	})
}

// update persists the new settings before applying them, so a failed write
// leaves the live settings unchanged.
func (p *PolicyState) update(ctx context.Context, fn func(policy.Settings) policy.Settings) (policy.Settings, error) {
	p.mu.Lock()
	next := fn(p.settings.Clone())
	if p.store != nil {
		if err := p.store.Save(ctx, next); err != nil {
			p.mu.Unlock()
			return policy.Settings{}, fmt.Errorf("save policy preferences: %w", err)
		}
	}
	p.settings = next
	p.mu.Unlock()

	slog.Info("approval policy updated", "global", next.Global, "overrides", len(next.Overrides))
	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, ws.EventPolicyUpdated, ws.PolicyUpdatedEvent{Settings: next.Clone()})
	}
	return next.Clone(), nil
}
