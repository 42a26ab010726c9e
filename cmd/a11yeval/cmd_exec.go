package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"a11yeval/internal/harness"
	"a11yeval/internal/schema"
)

// execCmd runs one document through the full driver pipeline and writes its
// execution record. The exit code reflects invocation validity, not the
// evaluation outcome: a record with status fail or error still exits 0.
var execCmd = &cobra.Command{
	Use:   "exec [content-path] [script] [output-path] [screenshot-path]",
	Short: "Execute one document against a test script and write its record",
	Long: `Renders the document at content-path, runs the named test script's
assertions and the accessibility audit, and writes the resulting JSON
execution record to output-path. The script argument is a registered script
name or a path whose base name matches one.

Exits 0 whenever a record was produced, including records with status fail
or error. A nonzero exit means the invocation itself was unusable.`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runExec,
}

var execTimeoutMs int

func init() {
	execCmd.Flags().IntVar(&execTimeoutMs, "timeout-ms", 0, "per-run timeout (default from config)")
	rootCmd.AddCommand(execCmd)
}

// scriptNameFromArg accepts either a registered name or a file path whose
// base name (extension stripped) is the registered name.
func scriptNameFromArg(arg string) string {
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runExec(cmd *cobra.Command, args []string) error {
	contentPath, scriptArg, outputPath := args[0], args[1], args[2]
	screenshotPath := ""
	if len(args) == 4 {
		screenshotPath = args[3]
	}

	content, err := os.ReadFile(contentPath)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	// Script resolution is the driver's job: an unknown script becomes a
	// serialized error record, not an invocation failure.
	scriptName := scriptNameFromArg(scriptArg)

	ctx, stop := signalContext()
	defer stop()

	driver, shutdown, err := buildDriver(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	timeout := cfg.Sampling.RunTimeout()
	if execTimeoutMs > 0 {
		timeout = time.Duration(execTimeoutMs) * time.Millisecond
	}

	rec := driver.Execute(ctx, harness.Request{
		Test:           scriptName,
		Content:        string(content),
		ScriptName:     scriptName,
		ScreenshotPath: screenshotPath,
		Timeout:        timeout,
	})

	if err := harness.WriteRecord(rec, outputPath); err != nil {
		return err
	}

	logger.Info("execution complete",
		zap.String("script", scriptName),
		zap.String("status", string(rec.Status)),
		zap.String("output", outputPath))
	if rec.Status != schema.StatusPass {
		fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", rec.Status)
	}
	return nil
}
