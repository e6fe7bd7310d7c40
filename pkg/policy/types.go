package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the package.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the package before any hook runs.
	SeverityError Severity = "error"

	// SeverityCritical blocks the package before any hook runs.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity stop the package.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module whose deny set yields violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Package  string   `json:"package"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy for one manifest.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Package ManifestInput `json:"package"`
	Context Context       `json:"context"`
}

// ManifestInput is the evaluated manifest as seen by policies.
type ManifestInput struct {
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	AbsoluteVersion int64    `json:"absolute_version"`
	URL             string   `json:"url"`
	Patches         []string `json:"patches"`
	Depends         []string `json:"depends"`
	Metapackage     bool     `json:"metapackage"`
	Git             bool     `json:"git"`
	Hooks           []string `json:"hooks"`
}

// Context describes the invocation evaluating the policy.
type Context struct {
	// Operation is install, download or detect.
	Operation string `json:"operation"`
	Mirror    string `json:"mirror"`
	TrustAll  bool   `json:"trust_all"`
	DryRun    bool   `json:"dry_run"`
}
