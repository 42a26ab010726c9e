// Package main implements the a11yeval CLI: single-run execution, full
// sampling runs across test cases and models, aggregate recomputation, and
// fixture validation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"a11yeval/internal/audit"
	"a11yeval/internal/browser"
	"a11yeval/internal/config"
	"a11yeval/internal/harness"

	// Built-in test scripts register themselves on import.
	_ "a11yeval/internal/scripts"
)

var (
	verbose bool
	cfgPath string

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "a11yeval",
	Short: "Accessibility evaluation harness for generated markup",
	Long: `a11yeval renders model-generated HTML in a headless browser, runs
per-test-case assertion scripts and an axe-core audit against it, and
aggregates repeated samples into pass@k reliability statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "a11yeval.yaml", "configuration file")
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildDriver starts the shared browser and wires an execution driver.
// The returned shutdown func releases the browser.
func buildDriver(ctx context.Context) (*harness.Driver, func(), error) {
	mgr := browser.NewManager(cfg.Browser, logger)
	if err := mgr.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start browser: %w", err)
	}
	auditor, err := audit.New(cfg.Audit, logger)
	if err != nil {
		mgr.Shutdown()
		return nil, nil, err
	}
	driver := harness.NewDriver(mgr, auditor, logger)
	return driver, func() { _ = mgr.Shutdown() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
