// Package audit invokes the axe-core accessibility engine inside a rendering
// session and partitions its findings into regulatory and advisory sets.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"a11yeval/internal/schema"
)

// ErrAudit marks a failed audit engine invocation.
var ErrAudit = errors.New("audit engine invocation failed")

// Evaluator is the slice of the execution context the auditor needs: run a JS
// function against the rendered document and return its JSON value.
type Evaluator interface {
	Evaluate(ctx context.Context, js string, args ...any) ([]byte, error)
}

// Result is one audit invocation's partitioned findings. A violation is
// advisory iff its tag set contains the best-practice marker; the partition is
// mutually exclusive.
type Result struct {
	Regulatory []schema.AuditViolation
	Advisory   []schema.AuditViolation
}

// Config holds audit configuration.
type Config struct {
	// ScriptPath locates the axe-core bundle injected into each session.
	ScriptPath string `yaml:"script_path"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{ScriptPath: "assets/axe.min.js"}
}

// Auditor injects axe-core and collects violations. The bundle is read once
// at construction.
type Auditor struct {
	source string
	logger *zap.Logger
}

// New loads the audit engine source from cfg.ScriptPath.
func New(cfg Config, logger *zap.Logger) (*Auditor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("read audit engine bundle: %w", err)
	}
	return &Auditor{source: string(src), logger: logger}, nil
}

// NewWithSource builds an auditor from an in-memory engine bundle.
func NewWithSource(source string, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{source: source, logger: logger}
}

const injectJS = `(src) => {
	if (window.axe) return true;
	const s = document.createElement('script');
	s.textContent = src;
	document.head.appendChild(s);
	return typeof window.axe !== 'undefined';
}`

const runJS = `() => axe.run(document, { resultTypes: ['violations'] }).then(r => r.violations)`

// axeViolation mirrors the engine's violation shape on the wire.
type axeViolation struct {
	ID          string   `json:"id"`
	Impact      string   `json:"impact"`
	Description string   `json:"description"`
	HelpURL     string   `json:"helpUrl"`
	Tags        []string `json:"tags"`
	Nodes       []struct {
		HTML   string   `json:"html"`
		Target []string `json:"target"`
	} `json:"nodes"`
}

// Run audits the current document state. It is called after the test script
// has driven the page, so script-opened state (dialogs, menus) is audited as
// rendered.
func (a *Auditor) Run(ctx context.Context, ev Evaluator) (*Result, error) {
	injected, err := ev.Evaluate(ctx, injectJS, a.source)
	if err != nil {
		return nil, fmt.Errorf("%w: inject engine: %v", ErrAudit, err)
	}
	var ok bool
	if err := json.Unmarshal(injected, &ok); err != nil || !ok {
		return nil, fmt.Errorf("%w: engine did not initialize", ErrAudit)
	}

	raw, err := ev.Evaluate(ctx, runJS)
	if err != nil {
		return nil, fmt.Errorf("%w: run: %v", ErrAudit, err)
	}

	var violations []axeViolation
	if raw != nil {
		if err := json.Unmarshal(raw, &violations); err != nil {
			return nil, fmt.Errorf("%w: decode violations: %v", ErrAudit, err)
		}
	}
	return Partition(convert(violations)), nil
}

func convert(in []axeViolation) []schema.AuditViolation {
	out := make([]schema.AuditViolation, 0, len(in))
	for _, v := range in {
		sv := schema.AuditViolation{
			ID:          v.ID,
			Impact:      v.Impact,
			Description: v.Description,
			HelpURL:     v.HelpURL,
			Tags:        v.Tags,
		}
		for _, n := range v.Nodes {
			sv.Nodes = append(sv.Nodes, schema.AuditNode{HTML: n.HTML, Target: n.Target})
		}
		out = append(out, sv)
	}
	return out
}

// Partition splits violations into regulatory (default) and advisory
// (best-practice tagged) sets, preserving input order within each set.
func Partition(violations []schema.AuditViolation) *Result {
	res := &Result{}
	for _, v := range violations {
		if v.IsAdvisory() {
			res.Advisory = append(res.Advisory, v)
		} else {
			res.Regulatory = append(res.Regulatory, v)
		}
	}
	return res
}

func nodeKey(n schema.AuditNode) string {
	return strings.Join(n.Target, ",")
}

// Merge unions audit results from multiple UI states. Findings are
// de-duplicated by violation id plus node target: a violation reported in
// several states appears once, with the union of its affected nodes.
func Merge(results ...*Result) *Result {
	merged := &Result{}
	merged.Regulatory = mergeSet(results, func(r *Result) []schema.AuditViolation { return r.Regulatory })
	merged.Advisory = mergeSet(results, func(r *Result) []schema.AuditViolation { return r.Advisory })
	return merged
}

func mergeSet(results []*Result, pick func(*Result) []schema.AuditViolation) []schema.AuditViolation {
	var order []string
	byID := make(map[string]*schema.AuditViolation)
	seenNodes := make(map[string]map[string]bool)

	for _, r := range results {
		if r == nil {
			continue
		}
		for _, v := range pick(r) {
			existing, ok := byID[v.ID]
			if !ok {
				clone := v
				clone.Nodes = nil
				byID[v.ID] = &clone
				seenNodes[v.ID] = make(map[string]bool)
				order = append(order, v.ID)
				existing = byID[v.ID]
			}
			for _, n := range v.Nodes {
				key := nodeKey(n)
				if seenNodes[v.ID][key] {
					continue
				}
				seenNodes[v.ID][key] = true
				existing.Nodes = append(existing.Nodes, n)
			}
		}
	}

	out := make([]schema.AuditViolation, 0, len(order))
	for _, id := range order {
		v := byID[id]
		sort.Slice(v.Nodes, func(i, j int) bool { return nodeKey(v.Nodes[i]) < nodeKey(v.Nodes[j]) })
		out = append(out, *v)
	}
	return out
}
