package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"a11yeval/internal/cache"
	"a11yeval/internal/harness"
	"a11yeval/internal/schema"
	"a11yeval/internal/testcase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubDriver returns a canned status per content and counts invocations.
type stubDriver struct {
	invocations atomic.Int64
	statusFor   func(req harness.Request) schema.Status
}

func (d *stubDriver) Execute(_ context.Context, req harness.Request) *schema.ExecutionRecord {
	d.invocations.Add(1)
	status := schema.StatusPass
	if d.statusFor != nil {
		status = d.statusFor(req)
	}
	rec := &schema.ExecutionRecord{
		Test:        req.Test,
		Model:       req.Model,
		SampleIndex: req.SampleIndex,
		Status:      status,
		Assertions:  []schema.AssertionRecord{},
		ConsoleLog:  []string{},
		Engine:      "rod",
	}
	if status == schema.StatusError {
		rec.Error = "stubbed failure"
	}
	return rec
}

// stubGenerator records requests and emits deterministic content.
type stubGenerator struct {
	mu       sync.Mutex
	requests []GenerationRequest
	err      error
}

func (g *stubGenerator) Generate(_ context.Context, req GenerationRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("<html><!-- %s/%s/%d --></html>", req.Test, req.Model, req.SampleIndex), nil
}

func newTestCache(t *testing.T, disabled bool) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir(), disabled, nil)
	require.NoError(t, err)
	return c
}

var tc = testcase.TestCase{Name: "modal_dialog", Prompt: "Build a dialog."}

func TestGetOrExecuteIdempotentWithCache(t *testing.T) {
	driver := &stubDriver{}
	gen := &stubGenerator{}
	seed := int64(7)
	agg := New(gen, driver, newTestCache(t, false), nil, Options{BaseSeed: &seed}, nil)

	first, err := agg.GetOrExecute(context.Background(), tc, "model-a", 0)
	require.NoError(t, err)
	second, err := agg.GetOrExecute(context.Background(), tc, "model-a", 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), driver.invocations.Load(), "cache hit must not re-invoke the driver")
	assert.Equal(t, first, second)
	assert.Len(t, gen.requests, 1)
}

func TestGetOrExecuteCacheDisabledForcesFreshRuns(t *testing.T) {
	dir := t.TempDir()
	warm, err := cache.New(dir, false, nil)
	require.NoError(t, err)

	driver := &stubDriver{}
	gen := &stubGenerator{}
	agg := New(gen, driver, warm, nil, Options{Samples: 3}, nil)
	for i := 0; i < 3; i++ {
		_, err := agg.GetOrExecute(context.Background(), tc, "model-a", i)
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), driver.invocations.Load())

	// Same fingerprints now exist; a disabled cache must still run all n.
	bypass, err := cache.New(dir, true, nil)
	require.NoError(t, err)
	agg = New(gen, driver, bypass, nil, Options{Samples: 3}, nil)
	for i := 0; i < 3; i++ {
		_, err := agg.GetOrExecute(context.Background(), tc, "model-a", i)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(6), driver.invocations.Load())
}

func TestGetOrExecuteSeedDerivation(t *testing.T) {
	driver := &stubDriver{}
	gen := &stubGenerator{}
	base := int64(100)
	agg := New(gen, driver, newTestCache(t, false), nil, Options{BaseSeed: &base}, nil)

	for i := 0; i < 3; i++ {
		_, err := agg.GetOrExecute(context.Background(), tc, "model-a", i)
		require.NoError(t, err)
	}

	require.Len(t, gen.requests, 3)
	seeds := map[int64]bool{}
	for _, req := range gen.requests {
		require.NotNil(t, req.Seed)
		seeds[*req.Seed] = true
	}
	assert.Equal(t, map[int64]bool{100: true, 101: true, 102: true}, seeds)
}

func TestGetOrExecuteForwardsSampleIdentity(t *testing.T) {
	driver := &stubDriver{}
	gen := &stubGenerator{}
	agg := New(gen, driver, newTestCache(t, false), nil, Options{}, nil)

	_, err := agg.GetOrExecute(context.Background(), tc, "model-a", 4)
	require.NoError(t, err)

	// Backends that resolve pre-generated samples by index depend on the
	// request carrying the full (test, model, sample) identity.
	require.Len(t, gen.requests, 1)
	assert.Equal(t, tc.Name, gen.requests[0].Test)
	assert.Equal(t, "model-a", gen.requests[0].Model)
	assert.Equal(t, 4, gen.requests[0].SampleIndex)
}

func TestGetOrExecuteGenerationFailureBecomesErrorRecord(t *testing.T) {
	driver := &stubDriver{}
	gen := &stubGenerator{err: errors.New("provider unavailable")}
	agg := New(gen, driver, newTestCache(t, false), nil, Options{}, nil)

	rec, err := agg.GetOrExecute(context.Background(), tc, "model-a", 0)
	require.NoError(t, err, "a failed generation is a sample, not an aggregator failure")
	assert.Equal(t, schema.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "provider unavailable")
	assert.Zero(t, driver.invocations.Load())
}

func TestRunGroupAggregates(t *testing.T) {
	driver := &stubDriver{statusFor: func(req harness.Request) schema.Status {
		// Samples 0..2 pass, 3..9 fail: n=10, c=3.
		if req.SampleIndex < 3 {
			return schema.StatusPass
		}
		return schema.StatusFail
	}}
	agg := New(&stubGenerator{}, driver, newTestCache(t, false), nil,
		Options{Samples: 10, KValues: []int{1, 5}}, nil)

	records, group := agg.RunGroup(context.Background(), tc, "model-a")
	require.Len(t, records, 10)
	require.NotNil(t, group)
	assert.Equal(t, 10, group.NSamples)
	assert.Equal(t, 3, group.NPassed)
	assert.InDelta(t, 0.3, group.PassAtK["1"], 1e-12)
	assert.InDelta(t, 1.0-21.0/252.0, group.PassAtK["5"], 1e-12)
}

func TestRunGroupAllErrors(t *testing.T) {
	driver := &stubDriver{statusFor: func(harness.Request) schema.Status {
		return schema.StatusError
	}}
	agg := New(&stubGenerator{}, driver, newTestCache(t, false), nil,
		Options{Samples: 4, KValues: []int{1, 2}}, nil)

	records, group := agg.RunGroup(context.Background(), tc, "model-a")
	require.Len(t, records, 4)
	require.NotNil(t, group)
	// Error records count toward n, never toward c.
	assert.Equal(t, 4, group.NSamples)
	assert.Equal(t, 0, group.NPassed)
	assert.Equal(t, 0.0, group.PassAtK["1"])
	assert.Equal(t, 0.0, group.PassAtK["2"])
}

func TestAggregateReportsNotComputableK(t *testing.T) {
	records := []*schema.ExecutionRecord{
		{Status: schema.StatusPass},
		{Status: schema.StatusFail},
	}
	group, err := Aggregate("t", "m", records, []int{1, 2, 10})
	require.NoError(t, err)
	assert.Equal(t, []int{10}, group.NotComputable)
	_, present := group.PassAtK["10"]
	assert.False(t, present)
}

func TestAggregateTreatsRecordsAsSet(t *testing.T) {
	a := []*schema.ExecutionRecord{
		{Status: schema.StatusPass},
		{Status: schema.StatusFail},
		{Status: schema.StatusError},
	}
	b := []*schema.ExecutionRecord{a[2], a[0], a[1]}

	ga, err := Aggregate("t", "m", a, []int{1, 2})
	require.NoError(t, err)
	gb, err := Aggregate("t", "m", b, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, ga.PassAtK, gb.PassAtK)
	assert.Equal(t, ga.NSamples, gb.NSamples)
	assert.Equal(t, ga.NPassed, gb.NPassed)
}
