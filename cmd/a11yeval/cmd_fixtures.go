package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"a11yeval/internal/harness"
	"a11yeval/internal/schema"
	"a11yeval/internal/testcase"
)

// fixturesCmd validates test scripts against their golden fixtures: each
// example document embeds the per-assertion outcomes it should produce, and
// the command runs every fixture through the real driver and diffs outcomes
// against the embedded expectations. A failing fixture means the script and
// its author disagree about a known document.
var fixturesCmd = &cobra.Command{
	Use:   "fixtures",
	Short: "Validate test scripts against their golden example fixtures",
	RunE:  runFixtures,
}

func init() {
	rootCmd.AddCommand(fixturesCmd)
}

// diffExpectations compares a record's assertion outcomes to a fixture's
// embedded expectations. An expectation of "none" requires the assertion to
// be absent.
func diffExpectations(expectations map[string]string, assertions []schema.AssertionRecord) []string {
	got := make(map[string]string, len(assertions))
	for _, a := range assertions {
		got[a.Name] = string(a.Status)
	}

	var mismatches []string
	for name, want := range expectations {
		actual, present := got[name]
		switch {
		case want == "none" && present:
			mismatches = append(mismatches, fmt.Sprintf("%s: expected no assertion, got %s", name, actual))
		case want != "none" && !present:
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, assertion never ran", name, want))
		case want != "none" && actual != want:
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %s, got %s", name, want, actual))
		}
	}
	return mismatches
}

func runFixtures(cmd *cobra.Command, args []string) error {
	cases, err := testcase.LoadDir(cfg.TestCasesDir)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	driver, shutdown, err := buildDriver(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	out := cmd.OutOrStdout()
	checked, failed := 0, 0
	for _, tc := range cases {
		examples, err := testcase.LoadExamples(tc.Dir)
		if err != nil {
			return err
		}
		for _, ex := range examples {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			checked++
			rec := driver.Execute(ctx, harness.Request{
				Test:       tc.Name,
				Content:    ex.HTML,
				ScriptName: tc.ScriptName,
				Timeout:    cfg.Sampling.RunTimeout(),
			})
			if rec.Status == schema.StatusError {
				failed++
				fmt.Fprintf(out, "FAIL %s: %s\n", filepath.Base(ex.Path), rec.Error)
				continue
			}
			mismatches := diffExpectations(ex.Expectations, rec.Assertions)
			if len(mismatches) == 0 {
				fmt.Fprintf(out, "ok   %s/%s\n", tc.Name, filepath.Base(ex.Path))
				continue
			}
			failed++
			fmt.Fprintf(out, "FAIL %s/%s\n", tc.Name, filepath.Base(ex.Path))
			for _, m := range mismatches {
				fmt.Fprintf(out, "     %s\n", m)
			}
		}
	}

	logger.Info("fixture validation complete",
		zap.Int("checked", checked), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d fixtures failed", failed, checked)
	}
	fmt.Fprintf(out, "%d fixtures ok\n", checked)
	return nil
}
