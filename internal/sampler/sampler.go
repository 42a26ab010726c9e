// Package sampler collects execution records across repeated independent
// generations of the same (test, model) pair, short-circuiting through a
// content-addressed cache, and turns the collected set into pass@k
// reliability statistics.
package sampler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"a11yeval/internal/cache"
	"a11yeval/internal/harness"
	"a11yeval/internal/metrics"
	"a11yeval/internal/schema"
	"a11yeval/internal/testcase"
)

// Generator produces one markup document for a prompt. It is an external
// collaborator; the sampler only cares about the returned content.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// GenerationRequest carries everything the external generator needs for one
// sample.
type GenerationRequest struct {
	Test        string
	Model       string
	SampleIndex int
	Prompt      string
	Seed        *int64
	Temperature *float64
}

// ExecutionDriver runs one (test, model, sample) execution to completion.
// Satisfied by harness.Driver; narrowed to an interface so aggregation tests
// can count invocations.
type ExecutionDriver interface {
	Execute(ctx context.Context, req harness.Request) *schema.ExecutionRecord
}

// RecordStore durably persists per-sample and per-group results.
type RecordStore interface {
	SaveExecution(rec *schema.ExecutionRecord) error
	SaveAggregate(agg *schema.AggregateRecord) error
}

// Options configures a sampling run.
type Options struct {
	Samples     int
	KValues     []int
	BaseSeed    *int64
	Temperature *float64

	// RunTimeout bounds each individual execution.
	RunTimeout time.Duration

	// ScreenshotDir, when set, requests one capture per sample.
	ScreenshotDir string

	// RunID tags the aggregates produced by this run.
	RunID string
}

// Aggregator orchestrates sampling for (test, model) groups.
type Aggregator struct {
	gen    Generator
	driver ExecutionDriver
	cache  *cache.Cache
	store  RecordStore
	opts   Options
	logger *zap.Logger
}

// New wires an aggregator. store may be nil when durable persistence is not
// wanted (fixture validation, tests).
func New(gen Generator, driver ExecutionDriver, c *cache.Cache, store RecordStore, opts Options, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Samples <= 0 {
		opts.Samples = 1
	}
	if len(opts.KValues) == 0 {
		opts.KValues = []int{1}
	}
	return &Aggregator{gen: gen, driver: driver, cache: c, store: store, opts: opts, logger: logger}
}

// seedFor derives the per-sample seed deterministically from the base seed.
func (a *Aggregator) seedFor(sampleIndex int) *int64 {
	if a.opts.BaseSeed == nil {
		return nil
	}
	seed := *a.opts.BaseSeed + int64(sampleIndex)
	return &seed
}

func (a *Aggregator) params() map[string]any {
	if a.opts.Temperature == nil {
		return nil
	}
	return map[string]any{"temperature": *a.opts.Temperature}
}

func (a *Aggregator) screenshotPath(tc testcase.TestCase, model string, sampleIndex int) string {
	if a.opts.ScreenshotDir == "" {
		return ""
	}
	name := fmt.Sprintf("%s__%s__s%d.png", tc.Name, model, sampleIndex)
	return filepath.Join(a.opts.ScreenshotDir, name)
}

// GetOrExecute returns the execution record for one sample. With caching
// enabled, a fingerprint hit returns the stored record without invoking the
// driver; otherwise the sample is generated, executed, and both content and
// record are stored under the fingerprint.
func (a *Aggregator) GetOrExecute(ctx context.Context, tc testcase.TestCase, model string, sampleIndex int) (*schema.ExecutionRecord, error) {
	seed := a.seedFor(sampleIndex)
	fp, err := cache.Fingerprint(cache.Key{
		Test:        tc.Name,
		Model:       model,
		SampleIndex: sampleIndex,
		Seed:        seed,
		Params:      a.params(),
	})
	if err != nil {
		return nil, err
	}

	entry, hit, err := a.cache.Get(fp)
	if err != nil {
		a.logger.Warn("cache read failed, re-executing",
			zap.String("fingerprint", fp), zap.Error(err))
		hit = false
	}
	if hit && entry.Record != nil {
		a.logger.Debug("cache hit",
			zap.String("test", tc.Name), zap.String("model", model), zap.Int("sample", sampleIndex))
		return entry.Record, nil
	}

	var content string
	if hit {
		content = entry.Content
	} else {
		content, err = a.gen.Generate(ctx, GenerationRequest{
			Test:        tc.Name,
			Model:       model,
			SampleIndex: sampleIndex,
			Prompt:      tc.Prompt,
			Seed:        seed,
			Temperature: a.opts.Temperature,
		})
		if err != nil {
			// A failed generation is still a sample: it counts against the
			// group as an error record rather than aborting it.
			rec := &schema.ExecutionRecord{
				Test:        tc.Name,
				Model:       model,
				SampleIndex: sampleIndex,
				Status:      schema.StatusError,
				Assertions:  []schema.AssertionRecord{},
				ConsoleLog:  []string{},
				Error:       fmt.Sprintf("generation failed: %v", err),
				Engine:      "rod",
				CreatedAt:   time.Now().UTC(),
			}
			a.persist(rec)
			return rec, nil
		}
	}

	rec := a.driver.Execute(ctx, harness.Request{
		Test:           tc.Name,
		Model:          model,
		SampleIndex:    sampleIndex,
		Content:        content,
		ScriptName:     tc.ScriptName,
		ScreenshotPath: a.screenshotPath(tc, model, sampleIndex),
		Timeout:        a.opts.RunTimeout,
	})

	if err := a.cache.Put(fp, &cache.Entry{Content: content, Record: rec}); err != nil {
		a.logger.Warn("cache write failed", zap.String("fingerprint", fp), zap.Error(err))
	}
	a.persist(rec)
	return rec, nil
}

func (a *Aggregator) persist(rec *schema.ExecutionRecord) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveExecution(rec); err != nil {
		a.logger.Warn("persist execution record",
			zap.String("test", rec.Test), zap.String("model", rec.Model), zap.Error(err))
	}
}

// RunGroup executes all samples for one (test, model) group in parallel and
// returns the collected records plus the group's aggregate. Failures stay
// inside the group: a group where every sample errored aggregates to
// pass@k = 0, it never halts other groups.
func (a *Aggregator) RunGroup(ctx context.Context, tc testcase.TestCase, model string) ([]*schema.ExecutionRecord, *schema.AggregateRecord) {
	records := make([]*schema.ExecutionRecord, a.opts.Samples)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < a.opts.Samples; i++ {
		i := i
		eg.Go(func() error {
			rec, err := a.GetOrExecute(egCtx, tc, model, i)
			if err != nil {
				rec = &schema.ExecutionRecord{
					Test:        tc.Name,
					Model:       model,
					SampleIndex: i,
					Status:      schema.StatusError,
					Assertions:  []schema.AssertionRecord{},
					ConsoleLog:  []string{},
					Error:       err.Error(),
					Engine:      "rod",
					CreatedAt:   time.Now().UTC(),
				}
			}
			records[i] = rec
			return nil
		})
	}
	_ = eg.Wait()

	agg, err := Aggregate(tc.Name, model, records, a.opts.KValues)
	if err != nil {
		// Only reachable with invalid k configuration; surface it on the
		// aggregate rather than halting the run.
		a.logger.Error("aggregate failed",
			zap.String("test", tc.Name), zap.String("model", model), zap.Error(err))
		return records, nil
	}
	agg.RunID = a.opts.RunID
	if a.store != nil {
		if err := a.store.SaveAggregate(agg); err != nil {
			a.logger.Warn("persist aggregate", zap.String("test", tc.Name), zap.Error(err))
		}
	}
	return records, agg
}

// Aggregate computes the pass@k aggregate for one group's records. The
// records are treated as an unordered set; an error-status record counts
// toward n but never toward c.
func Aggregate(test, model string, records []*schema.ExecutionRecord, ks []int) (*schema.AggregateRecord, error) {
	n := 0
	c := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		n++
		if rec.Status == schema.StatusPass {
			c++
		}
	}

	res, err := metrics.PassAtK(c, n, ks)
	if err != nil {
		return nil, err
	}

	sorted := append([]int(nil), ks...)
	sort.Ints(sorted)

	return &schema.AggregateRecord{
		Test:          test,
		Model:         model,
		NSamples:      n,
		NPassed:       c,
		PassAtK:       metrics.Format(res.Values),
		KValues:       sorted,
		NotComputable: res.NotComputable,
		ComputedAt:    time.Now().UTC(),
	}, nil
}
