package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"a11yeval/internal/cache"
	"a11yeval/internal/config"
	"a11yeval/internal/generator"
	"a11yeval/internal/sampler"
	"a11yeval/internal/schema"
	"a11yeval/internal/store"
	"a11yeval/internal/testcase"
)

// runCmd evaluates the full matrix: every test case against every configured
// model, N samples each, aggregated to pass@k. Results are persisted to the
// store and summarized under results/runs/<run_id>/.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full evaluation matrix (test cases x models x samples)",
	RunE:  runMatrix,
}

var (
	runTests        []string
	runModels       []string
	runSamples      int
	runNoCache      bool
	runScreenshots  bool
	runPregenerated string
)

func init() {
	runCmd.Flags().StringSliceVar(&runTests, "tests", nil, "restrict to these test cases")
	runCmd.Flags().StringSliceVar(&runModels, "models", nil, "restrict to these models")
	runCmd.Flags().IntVar(&runSamples, "samples", 0, "samples per group (default from config)")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "bypass the sample cache")
	runCmd.Flags().BoolVar(&runScreenshots, "screenshots", false, "capture one screenshot per sample")
	runCmd.Flags().StringVar(&runPregenerated, "pregenerated", "",
		"serve samples from <dir>/<test>/samples/<model>/<index>.html instead of calling a generation endpoint")
	rootCmd.AddCommand(runCmd)
}

// runSummary is the per-run results.json document.
type runSummary struct {
	RunID      string                    `json:"run_id"`
	CreatedAt  time.Time                 `json:"created_at"`
	Tests      []string                  `json:"tests"`
	Models     []string                  `json:"models"`
	Samples    int                       `json:"samples"`
	KValues    []int                     `json:"k_values"`
	Aggregates []*schema.AggregateRecord `json:"aggregates"`
}

func selectCases(all []testcase.TestCase, names []string) []testcase.TestCase {
	if len(names) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []testcase.TestCase
	for _, tc := range all {
		if wanted[tc.Name] {
			out = append(out, tc)
		}
	}
	return out
}

func selectModels(all []config.ModelConfig, names []string) []config.ModelConfig {
	if len(names) == 0 {
		return all
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []config.ModelConfig
	for _, m := range all {
		if wanted[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

// generatorFor picks the generation backend for one model.
func generatorFor(model config.ModelConfig) (sampler.Generator, error) {
	if runPregenerated != "" {
		return generator.Dir{Root: runPregenerated}, nil
	}
	if model.Endpoint == "" {
		return nil, fmt.Errorf("model %q has no endpoint and --pregenerated was not set", model.Name)
	}
	return generator.NewHTTP(model.Endpoint, os.Getenv(model.APIKeyEnv), logger), nil
}

func runMatrix(cmd *cobra.Command, args []string) error {
	cases, err := testcase.LoadDir(cfg.TestCasesDir)
	if err != nil {
		return err
	}
	cases = selectCases(cases, runTests)
	if len(cases) == 0 {
		return fmt.Errorf("no test cases selected under %s", cfg.TestCasesDir)
	}

	models := selectModels(cfg.Models, runModels)
	if len(models) == 0 {
		return fmt.Errorf("no models selected; configure models or pass --models")
	}

	samples := cfg.Sampling.Samples
	if runSamples > 0 {
		samples = runSamples
	}

	runID := uuid.NewString()
	runDir := filepath.Join(cfg.OutputDir, "runs", runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	driver, shutdown, err := buildDriver(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	sampleCache, err := cache.New(cfg.Cache.Dir, runNoCache || cfg.Cache.Disabled, logger)
	if err != nil {
		return err
	}
	resultStore, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer resultStore.Close()

	screenshotDir := ""
	if runScreenshots {
		screenshotDir = filepath.Join(runDir, "screenshots")
	}

	summary := &runSummary{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Samples:   samples,
		KValues:   cfg.Sampling.KValues,
	}
	for _, tc := range cases {
		summary.Tests = append(summary.Tests, tc.Name)
	}

	logger.Info("starting run",
		zap.String("run_id", runID),
		zap.Int("tests", len(cases)),
		zap.Int("models", len(models)),
		zap.Int("samples", samples))

	for _, model := range models {
		summary.Models = append(summary.Models, model.Name)

		gen, err := generatorFor(model)
		if err != nil {
			return err
		}
		agg := sampler.New(gen, driver, sampleCache, resultStore, sampler.Options{
			Samples:       samples,
			KValues:       cfg.Sampling.KValues,
			BaseSeed:      cfg.Sampling.BaseSeed,
			Temperature:   cfg.Sampling.Temperature,
			RunTimeout:    cfg.Sampling.RunTimeout(),
			ScreenshotDir: screenshotDir,
			RunID:         runID,
		}, logger)

		for _, tc := range cases {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			records, group := agg.RunGroup(ctx, tc, model.Name)
			if group == nil {
				continue
			}
			summary.Aggregates = append(summary.Aggregates, group)
			if err := writeGroupRecords(runDir, tc.Name, model.Name, records); err != nil {
				return err
			}
			printGroup(cmd, group)
		}
	}

	if err := writeJSON(filepath.Join(runDir, "results.json"), summary); err != nil {
		return err
	}
	logger.Info("run complete", zap.String("run_id", runID), zap.String("dir", runDir))
	fmt.Fprintf(cmd.OutOrStdout(), "results written to %s\n", runDir)
	return nil
}

func writeGroupRecords(runDir, test, model string, records []*schema.ExecutionRecord) error {
	path := filepath.Join(runDir, "records", fmt.Sprintf("%s__%s.json", test, model))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create records dir: %w", err)
	}
	return writeJSON(path, records)
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printGroup(cmd *cobra.Command, group *schema.AggregateRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s / %s: %d/%d passed", group.Test, group.Model, group.NPassed, group.NSamples)
	for _, k := range group.KValues {
		key := fmt.Sprintf("%d", k)
		if v, ok := group.PassAtK[key]; ok {
			fmt.Fprintf(out, "  pass@%d=%.4f", k, v)
		}
	}
	for _, k := range group.NotComputable {
		fmt.Fprintf(out, "  pass@%d=n/a(k>n)", k)
	}
	fmt.Fprintln(out)
}
