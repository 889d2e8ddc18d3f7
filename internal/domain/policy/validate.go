package policy

import (
	"fmt"

	"github.com/Strob0t/deskgate/internal/domain"
)

// Validate checks that the settings are well-formed. The global policy may
// not be inherit, and override keys must be non-empty.
func (s Settings) Validate() error {
	if err := ValidateGlobal(s.Global); err != nil {
		return err
	}
	for tool, p := range s.Overrides {
		if tool == "" {
			return fmt.Errorf("%w: override tool name is required", domain.ErrValidation)
		}
		if !p.Valid() {
			return fmt.Errorf("%w: invalid policy %q for tool %s", domain.ErrValidation, p, tool)
		}
	}
	return nil
}

// ValidateGlobal checks a value intended for the global policy.
func ValidateGlobal(p Policy) error {
	if p == Inherit {
		return fmt.Errorf("%w: global policy cannot be %q", domain.ErrValidation, Inherit)
	}
	if !p.Valid() {
		return fmt.Errorf("%w: invalid global policy %q", domain.ErrValidation, p)
	}
	return nil
}

// ValidateOverride checks a value intended for a per-tool override.
func ValidateOverride(tool string, p Policy) error {
	if tool == "" {
		return fmt.Errorf("%w: tool is required", domain.ErrValidation)
	}
	if !p.Valid() {
		return fmt.Errorf("%w: invalid policy %q", domain.ErrValidation, p)
	}
	return nil
}
