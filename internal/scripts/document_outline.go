package scripts

import "a11yeval/internal/harness"

// documentOutline verifies heading and landmark structure: exactly one h1,
// no skipped heading levels, and a main landmark.
func documentOutline(rc *harness.RunContext) error {
	rc.Assert("document has exactly one h1", func() harness.CheckResult {
		n, err := evalCount(rc, `() => document.querySelectorAll('h1').length`)
		if err != nil {
			return harness.Failf("evaluate: %v", err)
		}
		if n != 1 {
			return harness.Failf("found %d h1 elements", n)
		}
		return harness.Bool(true)
	})

	rc.Assert("heading levels do not skip", func() harness.CheckResult {
		return evalBool(rc, `() => {
			const headings = [...document.querySelectorAll('h1,h2,h3,h4,h5,h6')]
				.map(h => parseInt(h.tagName[1], 10));
			let prev = 0;
			for (const level of headings) {
				if (level > prev + 1) return false;
				prev = level;
			}
			return true;
		}`)
	})

	rc.Assert("document has a main landmark", func() harness.CheckResult {
		return evalBool(rc, `() => !!document.querySelector('main, [role="main"]')`)
	})

	rc.Assert("document declares a language", func() harness.CheckResult {
		return evalBool(rc, `() => !!document.documentElement.lang`)
	}, harness.WithLevel("BP"))
	return nil
}
