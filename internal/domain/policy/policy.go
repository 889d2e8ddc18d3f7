// Package policy defines the user's approval policies for privileged tools
// and decides, per invocation, whether a human must approve it.
package policy

import (
	"maps"

	"github.com/Strob0t/deskgate/internal/domain/risk"
)

// Policy controls when a privileged tool invocation needs approval.
type Policy string

const (
	// Always gates medium and high risk invocations.
	Always Policy = "always"
	// HighOnly gates only high risk invocations.
	HighOnly Policy = "high-only"
	// Never gates nothing. The ledger still records the action.
	Never Policy = "never"
	// Inherit is only meaningful as a per-tool override and defers to the
	// global policy.
	Inherit Policy = "inherit"
)

// Default is the global policy used when none is configured.
const Default = Always

// Valid reports whether p is a known policy value.
func (p Policy) Valid() bool {
	switch p {
	case Always, HighOnly, Never, Inherit:
		return true
	}
	return false
}

// Scope identifies which setting produced an effective policy.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeTool   Scope = "tool"
)

// Settings is the persisted policy configuration: one global policy plus
// optional per-tool overrides.
type Settings struct {
	Global    Policy            `json:"global" yaml:"global"`
	Overrides map[string]Policy `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// DefaultSettings returns settings with the default global policy and no overrides.
func DefaultSettings() Settings {
	return Settings{Global: Default}
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := Settings{Global: s.Global}
	if len(s.Overrides) > 0 {
		out.Overrides = maps.Clone(s.Overrides)
	}
	return out
}

// Resolve returns the effective policy for tool and the scope it came from.
// A non-inherit override wins; otherwise the global policy applies. An unset
// or inherit global falls back to Default.
func (s Settings) Resolve(tool string) (Policy, Scope) {
	if p, ok := s.Overrides[tool]; ok && p != "" && p != Inherit {
		return p, ScopeTool
	}
	if s.Global == "" || s.Global == Inherit {
		return Default, ScopeGlobal
	}
	return s.Global, ScopeGlobal
}

// Effective returns the policy that applies to tool.
func (s Settings) Effective(tool string) Policy {
	p, _ := s.Resolve(tool)
	return p
}

// WithOverride returns a copy of s with tool's override set to p.
// Setting Inherit removes the override.
func (s Settings) WithOverride(tool string, p Policy) Settings {
	out := s.Clone()
	if p == Inherit || p == "" {
		delete(out.Overrides, tool)
		if len(out.Overrides) == 0 {
			out.Overrides = nil
		}
		return out
	}
	if out.Overrides == nil {
		out.Overrides = make(map[string]Policy)
	}
	out.Overrides[tool] = p
	return out
}

// RequiresApproval is the gating table. Low risk never needs approval.
// Any unrecognized policy is treated like Always.
func RequiresApproval(level risk.Level, p Policy) bool {
	switch p {
	case Never:
		return false
	case HighOnly:
		return level == risk.High
	default:
		return level == risk.Medium || level == risk.High
	}
}
