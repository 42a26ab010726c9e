// Package scripts holds the built-in test case scripts. Each script registers
// itself under its test case name; importing this package for side effects
// makes every built-in case resolvable by the driver.
package scripts

import (
	"encoding/json"

	"a11yeval/internal/harness"
)

// evalBool runs a JS predicate against the rendered document and folds any
// evaluation failure into a failing check.
func evalBool(rc *harness.RunContext, js string, args ...any) harness.CheckResult {
	raw, err := rc.Page.Evaluate(rc.Ctx, js, args...)
	if err != nil {
		return harness.Failf("evaluate: %v", err)
	}
	var pass bool
	if err := json.Unmarshal(raw, &pass); err != nil {
		return harness.Failf("predicate returned non-boolean: %s", raw)
	}
	return harness.Bool(pass)
}

func evalCount(rc *harness.RunContext, js string, args ...any) (int, error) {
	raw, err := rc.Page.Evaluate(rc.Ctx, js, args...)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func init() {
	harness.Register("modal_dialog", modalDialog{})
	harness.Register("form_labels", harness.ScriptFunc(formLabels))
	harness.Register("document_outline", harness.ScriptFunc(documentOutline))
}
