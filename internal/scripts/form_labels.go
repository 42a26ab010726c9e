package scripts

import "a11yeval/internal/harness"

// formLabels verifies that every form control is programmatically labeled and
// that required fields are announced.
func formLabels(rc *harness.RunContext) error {
	controls, err := evalCount(rc,
		`() => document.querySelectorAll('input:not([type=hidden]), select, textarea').length`)
	if err != nil {
		return err
	}

	rc.Assert("form has at least one control", func() harness.CheckResult {
		return harness.Bool(controls > 0)
	})

	rc.Assert("every control has a label", func() harness.CheckResult {
		unlabeled, err := evalCount(rc, `() => {
			const controls = document.querySelectorAll('input:not([type=hidden]), select, textarea');
			let missing = 0;
			for (const c of controls) {
				const labeled = (c.id && document.querySelector('label[for="' + c.id + '"]')) ||
					c.closest('label') ||
					c.getAttribute('aria-label') ||
					c.getAttribute('aria-labelledby');
				if (!labeled) missing++;
			}
			return missing;
		}`)
		if err != nil {
			return harness.Failf("evaluate: %v", err)
		}
		if unlabeled > 0 {
			return harness.Failf("%d control(s) have no accessible label", unlabeled)
		}
		return harness.Bool(true)
	})

	rc.Assert("required fields are announced", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const required = document.querySelectorAll('[required]');
			for (const c of required) {
				if (c.getAttribute('aria-required') === 'false') return false;
			}
			return true;
		}`)
	}, harness.WithLevel("BP"))

	rc.Assert("submit control is reachable", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const submit = document.querySelector('button[type=submit], input[type=submit], form button:not([type])');
			return !!submit && !submit.disabled;
		}`)
	})
	return nil
}
