package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"a11yeval/internal/sampler"
	"a11yeval/internal/store"
)

// aggregateCmd recomputes pass@k for every stored (test, model) group from
// the execution records already in the results database. Useful after adding
// samples or changing k values without re-running the browser.
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute pass@k aggregates from stored execution records",
	RunE:  runAggregate,
}

var aggregateKValues []int

func init() {
	aggregateCmd.Flags().IntSliceVar(&aggregateKValues, "k", nil, "k values (default from config)")
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	ks := cfg.Sampling.KValues
	if len(aggregateKValues) > 0 {
		ks = aggregateKValues
	}

	resultStore, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer resultStore.Close()

	groups, err := resultStore.Groups()
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no execution records stored")
		return nil
	}

	for _, g := range groups {
		test, model := g[0], g[1]
		records, err := resultStore.ListExecutions(test, model)
		if err != nil {
			return err
		}
		group, err := sampler.Aggregate(test, model, records, ks)
		if err != nil {
			return fmt.Errorf("aggregate %s/%s: %w", test, model, err)
		}
		if err := resultStore.SaveAggregate(group); err != nil {
			return err
		}
		printGroup(cmd, group)
	}

	logger.Info("aggregation complete", zap.Int("groups", len(groups)))
	return nil
}
