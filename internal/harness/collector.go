// Package harness drives one test case against one rendered document: it
// binds the assertion collector into the test script, runs the accessibility
// audit, and serializes a single execution record per invocation.
package harness

import (
	"fmt"
	"sync"

	"a11yeval/internal/schema"
)

// CheckResult is the uniform outcome of an assertion body. Message is
// preserved regardless of outcome, so a passing check can still attach
// context for reporting.
type CheckResult struct {
	Pass    bool
	Message string
}

// Bool wraps a plain boolean check outcome.
func Bool(pass bool) CheckResult { return CheckResult{Pass: pass} }

// Failf builds a failing result with a formatted message.
func Failf(format string, args ...any) CheckResult {
	return CheckResult{Pass: false, Message: fmt.Sprintf(format, args...)}
}

type assertOptions struct {
	level schema.Level
}

// AssertOption configures a single assertion.
type AssertOption func(*assertOptions)

// WithLevel sets the assertion's requirement level. Input is case-normalized;
// anything other than R/BP coerces to R.
func WithLevel(level string) AssertOption {
	return func(o *assertOptions) { o.level = schema.NormalizeLevel(level) }
}

// Collector accumulates assertion results in declaration order. A panicking
// check is recorded as that assertion's failure and never aborts the run;
// repeated names each get their own slot.
type Collector struct {
	mu      sync.Mutex
	records []schema.AssertionRecord
}

// NewCollector returns an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Assert invokes check and records its normalized result.
func (c *Collector) Assert(name string, check func() CheckResult, opts ...AssertOption) {
	o := assertOptions{level: schema.LevelRequirement}
	for _, opt := range opts {
		opt(&o)
	}

	result := runCheck(check)

	rec := schema.AssertionRecord{
		Name:    name,
		Status:  schema.AssertionPass,
		Message: result.Message,
		Level:   o.level,
	}
	if !result.Pass {
		rec.Status = schema.AssertionFail
	}

	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()
}

// runCheck shields the run from a faulting assertion body: a panic becomes a
// failing result carrying the panic's description.
func runCheck(check func() CheckResult) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Pass: false, Message: fmt.Sprintf("assertion raised: %v", r)}
		}
	}()
	return check()
}

// Records returns a copy of the collected assertions in declaration order.
func (c *Collector) Records() []schema.AssertionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.AssertionRecord, len(c.records))
	copy(out, c.records)
	return out
}
