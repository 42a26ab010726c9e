package scripts

import (
	"github.com/go-rod/rod/lib/input"

	"a11yeval/internal/browser"
	"a11yeval/internal/harness"
)

// modalDialog verifies an accessible modal dialog: the dialog exposes the
// dialog role with an accessible name, traps focus while open, and closes on
// Escape. It drives the document through closed and open states, so it
// implements StatefulAuditor and audits both.
type modalDialog struct{}

var _ harness.StatefulAuditor = modalDialog{}

func (modalDialog) Run(rc *harness.RunContext) error {
	rc.Assert("page has a trigger control", func() harness.CheckResult {
		els, err := rc.Page.Query(rc.Ctx, "button, [role=\"button\"]")
		if err != nil {
			return harness.Failf("query: %v", err)
		}
		return harness.Bool(len(els) > 0)
	})

	if err := rc.Page.Click(rc.Ctx, "button, [role=\"button\"]"); err != nil {
		return err
	}

	rc.Assert("dialog is present after activation", func() harness.CheckResult {
		els, err := rc.Page.Query(rc.Ctx, browser.RoleSelector("dialog"))
		if err != nil {
			return harness.Failf("query: %v", err)
		}
		if len(els) == 0 {
			return harness.Failf("no element with role dialog")
		}
		return harness.Bool(true)
	})

	rc.Assert("dialog has an accessible name", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const d = document.querySelector('[role="dialog"]');
			if (!d) return false;
			if (d.getAttribute('aria-label')) return true;
			const labelledBy = d.getAttribute('aria-labelledby');
			return !!(labelledBy && document.getElementById(labelledBy));
		}`)
	})

	rc.Assert("dialog is marked modal", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const d = document.querySelector('[role="dialog"]');
			return !!d && d.getAttribute('aria-modal') === 'true';
		}`)
	}, harness.WithLevel("BP"))

	rc.Assert("focus moves into the dialog", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const d = document.querySelector('[role="dialog"]');
			return !!d && d.contains(document.activeElement);
		}`)
	})

	if err := rc.Page.PressKey(rc.Ctx, input.Escape); err != nil {
		return err
	}

	rc.Assert("escape closes the dialog", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const d = document.querySelector('[role="dialog"]');
			if (!d) return true;
			const style = getComputedStyle(d);
			return style.display === 'none' || style.visibility === 'hidden' || d.hidden;
		}`)
	})
	return nil
}

// RunAxe audits the closed and open dialog states.
func (s modalDialog) RunAxe(rc *harness.RunContext, runAudit harness.AuditFunc) error {
	if _, err := runAudit(); err != nil {
		return err
	}
	if err := rc.Utils.Reload(); err != nil {
		return err
	}
	if err := rc.Page.Click(rc.Ctx, "button, [role=\"button\"]"); err != nil {
		return err
	}
	_, err := runAudit()
	return err
}
