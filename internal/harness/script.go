package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"a11yeval/internal/audit"
	"a11yeval/internal/browser"
)

// Utils is the helper surface handed to test scripts.
type Utils struct {
	// Reload resets the execution context to a clean render of the content
	// under test.
	Reload func() error
}

// RunContext is the environment a test script's entry point receives.
type RunContext struct {
	Ctx   context.Context
	Page  *browser.Context
	Utils Utils

	collector *Collector
}

// Assert records one assertion against the active run.
func (rc *RunContext) Assert(name string, check func() CheckResult, opts ...AssertOption) {
	rc.collector.Assert(name, check, opts...)
}

// Script is the pluggable per-test behavior: one entry point invoked with the
// assertion collector bound.
type Script interface {
	Run(rc *RunContext) error
}

// ScriptFunc adapts a plain entry-point function to Script.
type ScriptFunc func(rc *RunContext) error

func (f ScriptFunc) Run(rc *RunContext) error { return f(rc) }

// AuditFunc runs the accessibility audit against the document's current state.
type AuditFunc func() (*audit.Result, error)

// StatefulAuditor is implemented by scripts that need to drive the document
// through multiple states (open dialogs, expanded menus) and audit each one.
// The driver merges the per-state results instead of taking a single
// end-of-run snapshot.
type StatefulAuditor interface {
	RunAxe(rc *RunContext, runAudit AuditFunc) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Script)
)

// Register binds a script to a test identity. Scripts are registered at
// startup; re-registering a name is a programming error.
func Register(name string, s Script) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("harness: script %q registered twice", name))
	}
	registry[name] = s
}

// Lookup resolves a test identity to its script.
func Lookup(name string) (Script, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	return s, ok
}

// RegisteredScripts lists all known test identities, sorted.
func RegisteredScripts() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
