// Package schema defines the wire types produced by the execution harness:
// per-assertion results, audit violations, the per-sample ExecutionRecord,
// and the per-group AggregateRecord. Records are created once and never
// mutated after serialization.
package schema

import (
	"strings"
	"time"
)

// Level classifies an assertion by requirement strength.
type Level string

const (
	// LevelRequirement failures fail the whole execution record.
	LevelRequirement Level = "R"
	// LevelBestPractice failures are tracked but never change the record status.
	LevelBestPractice Level = "BP"
)

// NormalizeLevel coerces arbitrary input to a valid Level. Unrecognized or
// empty values default to LevelRequirement.
func NormalizeLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BP":
		return LevelBestPractice
	default:
		return LevelRequirement
	}
}

// Status is the overall outcome of one execution.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// AssertionStatus is the outcome of a single assertion.
type AssertionStatus string

const (
	AssertionPass AssertionStatus = "pass"
	AssertionFail AssertionStatus = "fail"
)

// AssertionRecord is one assert() call's normalized result. Order within an
// ExecutionRecord is declaration order.
type AssertionRecord struct {
	Name    string          `json:"name"`
	Status  AssertionStatus `json:"status"`
	Message string          `json:"message,omitempty"`
	Level   Level           `json:"level"`
}

// AuditNode identifies one DOM node affected by an audit violation.
type AuditNode struct {
	HTML   string   `json:"html,omitempty"`
	Target []string `json:"target"`
}

// AuditViolation is a single finding from the accessibility audit engine.
type AuditViolation struct {
	ID          string      `json:"id"`
	Impact      string      `json:"impact,omitempty"`
	Description string      `json:"description"`
	HelpURL     string      `json:"help_url,omitempty"`
	Nodes       []AuditNode `json:"nodes"`
	Tags        []string    `json:"tags"`
}

// BestPracticeTag marks an audit violation as advisory rather than regulatory.
const BestPracticeTag = "best-practice"

// IsAdvisory reports whether the violation is tagged best-practice. The
// regulatory/advisory partition is mutually exclusive per violation.
func (v AuditViolation) IsAdvisory() bool {
	for _, t := range v.Tags {
		if t == BestPracticeTag {
			return true
		}
	}
	return false
}

// ExecutionRecord is the complete output of one Execution Driver invocation.
type ExecutionRecord struct {
	Test        string `json:"test,omitempty"`
	Model       string `json:"model,omitempty"`
	SampleIndex int    `json:"sample_index"`

	Status     Status            `json:"status"`
	Assertions []AssertionRecord `json:"assertions"`

	RegulatoryViolations []AuditViolation `json:"regulatory_violations"`
	AdvisoryViolations   []AuditViolation `json:"advisory_violations"`
	RegulatoryCount      int              `json:"regulatory_count"`
	AdvisoryCount        int              `json:"advisory_count"`

	ConsoleLog []string `json:"console_log"`
	Error      string   `json:"error,omitempty"`

	DurationMs      int64  `json:"duration_ms"`
	TotalDurationMs int64  `json:"total_duration_ms"`
	Engine          string `json:"engine"`
	Browser         string `json:"browser,omitempty"`

	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// StatusFromAssertions computes the pass/fail outcome for a completed run:
// fail iff at least one requirement-level assertion failed or at least one
// regulatory audit violation was found. Best-practice failures and advisory
// violations never change the status.
func StatusFromAssertions(assertions []AssertionRecord, regulatoryCount int) Status {
	if regulatoryCount > 0 {
		return StatusFail
	}
	for _, a := range assertions {
		if a.Level == LevelRequirement && a.Status == AssertionFail {
			return StatusFail
		}
	}
	return StatusPass
}

// AggregateRecord holds pass@k statistics for one (test, model) group.
// It is derived from the group's ExecutionRecords and replaced wholesale
// whenever the underlying sample set changes.
type AggregateRecord struct {
	Test     string `json:"test"`
	Model    string `json:"model"`
	NSamples int    `json:"n_samples"`
	NPassed  int    `json:"n_passed"`

	// PassAtK maps stringified k to the unbiased estimate. String keys keep
	// the JSON serialization stable across encoders.
	PassAtK map[string]float64 `json:"pass_at_k"`
	KValues []int              `json:"k_values"`

	// NotComputable lists requested k values greater than the sample count.
	// These are reported explicitly rather than extrapolated.
	NotComputable []int `json:"not_computable,omitempty"`

	ComputedAt time.Time `json:"computed_at"`
	RunID      string    `json:"run_id,omitempty"`
}
