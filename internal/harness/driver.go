package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"a11yeval/internal/audit"
	"a11yeval/internal/browser"
	"a11yeval/internal/schema"
)

// ErrScriptLoad marks a test script whose entry point is missing or
// unresolvable. Fatal to the run; no assertions are attempted.
var ErrScriptLoad = errors.New("test script has no entry point")

// Request describes one driver invocation: a single (test, model, sample)
// execution against one rendered document.
type Request struct {
	Test        string
	Model       string
	SampleIndex int

	// Content is the generated markup under evaluation.
	Content string

	// ScriptName overrides the script identity; defaults to Test.
	ScriptName string

	// ScreenshotPath, when set, requests a best-effort capture at
	// serialization time.
	ScreenshotPath string

	// Timeout bounds the whole run. Zero means no per-run bound beyond the
	// caller's context.
	Timeout time.Duration
}

func (r Request) scriptName() string {
	if r.ScriptName != "" {
		return r.ScriptName
	}
	return r.Test
}

// Driver orchestrates one full run: load content, run the test script's
// assertions, run the audit, capture diagnostics, and emit exactly one
// ExecutionRecord. It never fails across its public boundary; every outcome,
// including crashes and timeouts, is absorbed into the record.
type Driver struct {
	browser *browser.Manager
	auditor *audit.Auditor
	logger  *zap.Logger
}

// NewDriver wires a driver to its rendering and audit capabilities.
func NewDriver(b *browser.Manager, a *audit.Auditor, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{browser: b, auditor: a, logger: logger}
}

// Execute runs the request to completion and returns its record.
func (d *Driver) Execute(ctx context.Context, req Request) *schema.ExecutionRecord {
	start := time.Now()
	rec := &schema.ExecutionRecord{
		Test:        req.Test,
		Model:       req.Model,
		SampleIndex: req.SampleIndex,
		Assertions:  []schema.AssertionRecord{},
		ConsoleLog:  []string{},
		Engine:      "rod",
		Browser:     d.browser.BrowserVersion(),
		CreatedAt:   start.UTC(),
	}
	defer func() {
		rec.TotalDurationMs = time.Since(start).Milliseconds()
	}()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	session, err := d.browser.Acquire(ctx)
	if err != nil {
		rec.Status = schema.StatusError
		if ctx.Err() != nil {
			rec.Error = fmt.Sprintf("run timed out: %v", ctx.Err())
		} else {
			rec.Error = fmt.Sprintf("acquire execution context: %v", err)
		}
		return rec
	}
	defer session.Close()

	// Init -> ContentLoaded
	if err := session.Load(ctx, req.Content); err != nil {
		rec.Status = schema.StatusError
		rec.Error = err.Error()
		rec.ConsoleLog = session.DrainConsole()
		return rec
	}

	// ContentLoaded -> ScriptLoaded
	script, ok := Lookup(req.scriptName())
	if !ok {
		rec.Status = schema.StatusError
		rec.Error = fmt.Sprintf("%v: %q", ErrScriptLoad, req.scriptName())
		rec.ConsoleLog = session.DrainConsole()
		return rec
	}

	collector := NewCollector()
	rc := &RunContext{
		Ctx:       ctx,
		Page:      session,
		collector: collector,
		Utils: Utils{
			Reload: func() error { return session.Reload(ctx) },
		},
	}

	// ScriptLoaded -> AssertionsRun. A fault in the entry point outside any
	// assertion is captured on the record without discarding what was
	// already collected.
	phaseStart := time.Now()
	runErr := d.runScript(script, rc)

	// AssertionsRun -> AuditRun. Always attempted after the script phase so
	// script-driven state changes are reflected, unless the run already
	// timed out.
	var auditErr error
	var auditRes *audit.Result
	if ctx.Err() == nil {
		auditRes, auditErr = d.runAudit(script, rc)
	}
	rec.DurationMs = time.Since(phaseStart).Milliseconds()

	rec.Assertions = collector.Records()
	if auditRes != nil {
		rec.RegulatoryViolations = auditRes.Regulatory
		rec.AdvisoryViolations = auditRes.Advisory
		rec.RegulatoryCount = len(auditRes.Regulatory)
		rec.AdvisoryCount = len(auditRes.Advisory)
	}

	// AuditRun -> Serialized.
	switch {
	case ctx.Err() != nil:
		rec.Status = schema.StatusError
		rec.Error = fmt.Sprintf("run timed out: %v", ctx.Err())
	case auditErr != nil:
		// Audit engine failure: the record is an error, but collected
		// assertions still stand for reporting.
		rec.Status = schema.StatusError
		rec.Error = auditErr.Error()
	case runErr != nil:
		// Entry-point fault: status is still computed from whatever
		// assertions were collected before the fault.
		rec.Status = schema.StatusFromAssertions(rec.Assertions, rec.RegulatoryCount)
		rec.Error = runErr.Error()
	default:
		rec.Status = schema.StatusFromAssertions(rec.Assertions, rec.RegulatoryCount)
	}

	if req.ScreenshotPath != "" {
		if err := session.Capture(ctx, req.ScreenshotPath); err != nil {
			d.logger.Warn("screenshot capture failed",
				zap.String("test", req.Test),
				zap.String("path", req.ScreenshotPath),
				zap.Error(err))
		} else {
			rec.ScreenshotPath = req.ScreenshotPath
		}
	}

	rec.ConsoleLog = session.DrainConsole()
	return rec
}

// runScript invokes the entry point, converting a panic into an error.
func (d *Driver) runScript(script Script, rc *RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test script fault: %v", r)
		}
	}()
	return script.Run(rc)
}

// runAudit performs either a single end-of-run audit or, for scripts that
// drive multiple UI states, one audit per state merged by violation id and
// node target.
func (d *Driver) runAudit(script Script, rc *RunContext) (res *audit.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: audit phase fault: %v", audit.ErrAudit, r)
		}
	}()

	stateful, ok := script.(StatefulAuditor)
	if !ok {
		return d.auditor.Run(rc.Ctx, rc.Page)
	}

	var states []*audit.Result
	runOne := func() (*audit.Result, error) {
		r, auditErr := d.auditor.Run(rc.Ctx, rc.Page)
		if auditErr != nil {
			return nil, auditErr
		}
		states = append(states, r)
		return r, nil
	}
	if auditErr := stateful.RunAxe(rc, runOne); auditErr != nil {
		return nil, fmt.Errorf("%w: %v", audit.ErrAudit, auditErr)
	}
	if len(states) == 0 {
		// The script declared multi-state auditing but never invoked it;
		// fall back to a single end-of-run snapshot.
		return d.auditor.Run(rc.Ctx, rc.Page)
	}
	return audit.Merge(states...), nil
}

// WriteRecord serializes a record to path as indented JSON, creating parent
// directories as needed.
func WriteRecord(rec *schema.ExecutionRecord, path string) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write execution record: %w", err)
	}
	return nil
}
