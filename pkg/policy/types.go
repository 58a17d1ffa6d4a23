// Package policy gates mutations with OPA/Rego policies: editable-path
// scope and the npm package allowlist, with builtin policies and loadable
// overrides.
package policy

import "time"

// Severity indicates how serious a policy violation is.
type Severity string

const (
	// SeverityWarning flags a violation without blocking the mutation
	SeverityWarning Severity = "warning"
	// SeverityError blocks the mutation
	SeverityError Severity = "error"
	// SeverityCritical blocks the mutation and indicates likely abuse
	SeverityCritical Severity = "critical"
)

// Policy is a named Rego policy.
type Policy struct {
	// Name uniquely identifies the policy
	Name string

	// Description explains what the policy enforces
	Description string

	// Severity is the default severity for violations
	Severity Severity

	// Enabled controls whether the policy is evaluated
	Enabled bool

	// Rego is the policy source
	Rego string
}

// MutationInput is the input document for policy evaluation.
type MutationInput struct {
	// Operation is the mutation kind: write, delete, patch, install.
	Operation string `json:"operation"`

	// Path is the session-relative file path for file mutations.
	Path string `json:"path,omitempty"`

	// Packages lists npm packages for install operations.
	Packages []string `json:"packages,omitempty"`

	// SessionID identifies the requesting session.
	SessionID string `json:"session_id,omitempty"`
}

// Violation is one policy violation.
type Violation struct {
	// Policy is the name of the violated policy
	Policy string `json:"policy"`

	// Severity of this violation
	Severity string `json:"severity"`

	// Message describes the violation
	Message string `json:"message"`
}

// Result is the outcome of evaluating a mutation against all policies.
type Result struct {
	// Allowed is false when any violation is error or critical
	Allowed bool `json:"allowed"`

	// Violations lists all violations found
	Violations []Violation `json:"violations"`

	// Warnings lists policies that failed to evaluate
	Warnings []string `json:"warnings"`

	// EvaluatedAt is when the evaluation ran
	EvaluatedAt time.Time `json:"evaluated_at"`
}
