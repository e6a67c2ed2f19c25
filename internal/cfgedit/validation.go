package cfgedit

import (
	"context"
	"fmt"
	"time"
)

// DefaultValidateDelay is the quiet period after an edit before validation runs.
const DefaultValidateDelay = 300 * time.Millisecond

// Severity of a ValidationIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding from a validation run.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	// Line is the 1-based line the issue anchors to, or 0 if unknown.
	Line int `json:"line,omitempty"`
	// Path locates the offending value (JSON pointer) for schema and semantic
	// findings. It is empty for raw syntax errors.
	Path string `json:"path,omitempty"`
}

// HardBlock reports whether the issue prevents publishing outright: an
// error that is not anchored to a path, i.e. the document does not parse.
func (i ValidationIssue) HardBlock() bool {
	return i.Severity == SeverityError && i.Path == ""
}

func (i ValidationIssue) String() string {
	s := string(i.Severity)
	if i.Line > 0 {
		s += fmt.Sprintf(" line %d", i.Line)
	}
	if i.Path != "" {
		s += " " + i.Path
	}
	return s + ": " + i.Message
}

// Validator checks document text against a rule set. A document that fails
// to parse is reported as a path-less error issue, not as an error return;
// an error return means the check itself could not run.
type Validator interface {
	Validate(ctx context.Context, text, ruleSetID string) ([]ValidationIssue, error)
}

// Gate is the publish decision derived from an issue list.
type Gate int

const (
	// GateAllow: no issues.
	GateAllow Gate = iota
	// GateConfirm: only soft issues; publishing needs acknowledgement.
	GateConfirm
	// GateBlock: at least one path-less error; publishing is disabled.
	GateBlock
)

func (g Gate) String() string {
	switch g {
	case GateAllow:
		return "allow"
	case GateConfirm:
		return "confirm"
	default:
		return "block"
	}
}

// Decide derives the publish gate. Schema errors carrying a path are soft:
// structural correctness is acknowledged, parseability is required.
func Decide(issues []ValidationIssue) Gate {
	gate := GateAllow
	for _, issue := range issues {
		if issue.HardBlock() {
			return GateBlock
		}
		gate = GateConfirm
	}
	return gate
}

// IssueReport is a validation result as exposed to the host.
type IssueReport struct {
	Issues   []ValidationIssue
	Errors   int
	Warnings int
	Gate     Gate
}

// NewIssueReport counts issues by severity and derives the gate.
func NewIssueReport(issues []ValidationIssue) IssueReport {
	r := IssueReport{Issues: issues, Gate: Decide(issues)}
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			r.Errors++
		} else {
			r.Warnings++
		}
	}
	return r
}

// Lines returns the line anchor of every issue that has one, in issue order.
func (r IssueReport) Lines() []int {
	var lines []int
	for _, issue := range r.Issues {
		if issue.Line > 0 {
			lines = append(lines, issue.Line)
		}
	}
	return lines
}

// SoftCount is the number of issues that need acknowledgement before publishing.
func (r IssueReport) SoftCount() int {
	n := 0
	for _, issue := range r.Issues {
		if !issue.HardBlock() {
			n++
		}
	}
	return n
}

// ValidationPipeline runs a Validator for one rule set and never fails:
// when the check itself cannot run, the result is a single warning so the
// user can still publish after acknowledging it.
type ValidationPipeline struct {
	validator Validator
	ruleSetID string
	logger    Logger
}

// NewValidationPipeline creates a pipeline bound to ruleSetID.
func NewValidationPipeline(validator Validator, ruleSetID string, logger Logger) *ValidationPipeline {
	return &ValidationPipeline{validator: validator, ruleSetID: ruleSetID, logger: logger}
}

// Run validates text and returns the report.
func (p *ValidationPipeline) Run(ctx context.Context, text string) IssueReport {
	issues, err := p.validator.Validate(ctx, text, p.ruleSetID)
	if err != nil {
		p.logger.Warn("validation unavailable", "rule_set", p.ruleSetID, "error", err)
		issues = []ValidationIssue{{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("validation unavailable: %v", err),
			Path:     "/",
		}}
	}
	return NewIssueReport(issues)
}
