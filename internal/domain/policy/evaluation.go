package policy

import (
	"fmt"

	"github.com/Strob0t/deskgate/internal/domain/risk"
)

// Evaluation is the outcome of running one invocation through the settings.
type Evaluation struct {
	Tool   string     `json:"tool"`
	Risk   risk.Level `json:"risk_level"`
	Policy Policy     `json:"policy"`
	Scope  Scope      `json:"scope"`
	Gated  bool       `json:"gated"`
	Reason string     `json:"reason"`
}

// Evaluate classifies the invocation and applies the effective policy.
func (s Settings) Evaluate(tool string, input map[string]any) Evaluation {
	level := risk.Classify(tool, input)
	p, scope := s.Resolve(tool)
	gated := RequiresApproval(level, p)

	var reason string
	switch {
	case level == risk.Low:
		reason = "low risk tools run without approval"
	case gated:
		reason = fmt.Sprintf("%s risk requires approval under %s policy (%s)", level, p, scope)
	default:
		reason = fmt.Sprintf("%s risk allowed by %s policy (%s)", level, p, scope)
	}

	return Evaluation{
		Tool:   tool,
		Risk:   level,
		Policy: p,
		Scope:  scope,
		Gated:  gated,
		Reason: reason,
	}
}
