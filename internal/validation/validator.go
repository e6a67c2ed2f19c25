// Package validation checks configuration documents: syntax for YAML, JSON
// and TOML, then structure against JSON Schema rule sets.
package validation

import (
	"context"
	"sort"

	"cfgedit/internal/cfgedit"
)

// Validator implements cfgedit.Validator for one document format.
type Validator struct {
	provider RuleSetProvider
	format   Format
}

// NewValidator creates a Validator. A nil provider checks syntax only.
func NewValidator(provider RuleSetProvider, format Format) *Validator {
	return &Validator{provider: provider, format: format}
}

// Validate parses text and checks it against the rule set. A syntax error
// stops the run. An empty ruleSetID checks syntax only. An error return
// means the rule set could not be resolved.
func (v *Validator) Validate(ctx context.Context, text, ruleSetID string) ([]cfgedit.ValidationIssue, error) {
	parsed, issues := Parse(text, v.format)
	if len(issues) > 0 {
		return issues, nil
	}
	if ruleSetID == "" || v.provider == nil {
		return nil, nil
	}

	rs, err := v.provider.RuleSet(ctx, ruleSetID)
	if err != nil {
		return nil, err
	}

	issues = rs.Check(parsed.Value)
	for i := range issues {
		issues[i].Line = parsed.Line(issues[i].Path)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Line != issues[j].Line {
			return issues[i].Line < issues[j].Line
		}
		return issues[i].Path < issues[j].Path
	})
	return issues, nil
}

var _ cfgedit.Validator = (*Validator)(nil)
