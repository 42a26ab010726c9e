package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a11yeval/internal/schema"
)

func openTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "results.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(test, model string, sample int, status schema.Status) *schema.ExecutionRecord {
	return &schema.ExecutionRecord{
		Test:        test,
		Model:       model,
		SampleIndex: sample,
		Status:      status,
		Assertions:  []schema.AssertionRecord{},
		ConsoleLog:  []string{},
		Engine:      "rod",
	}
}

func TestSaveAndListExecutions(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-a", 0, schema.StatusPass)))
	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-a", 1, schema.StatusFail)))
	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-b", 0, schema.StatusPass)))

	records, err := s.ListExecutions("modal_dialog", "model-a")
	require.NoError(t, err)
	require.Len(t, records, 2)

	records, err = s.ListExecutions("form_labels", "model-a")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveExecutionUpsertsOnSampleKey(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-a", 0, schema.StatusFail)))
	rerun := record("modal_dialog", "model-a", 0, schema.StatusPass)
	rerun.TotalDurationMs = 1200
	require.NoError(t, s.SaveExecution(rerun))

	records, err := s.ListExecutions("modal_dialog", "model-a")
	require.NoError(t, err)
	require.Len(t, records, 1, "re-running a sample replaces its record")
	assert.Equal(t, schema.StatusPass, records[0].Status)
	assert.Equal(t, int64(1200), records[0].TotalDurationMs)
}

func TestSaveAggregateReplacesWholesale(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveAggregate(&schema.AggregateRecord{
		Test: "modal_dialog", Model: "model-a",
		NSamples: 5, NPassed: 2,
		PassAtK: map[string]float64{"1": 0.4},
		KValues: []int{1},
	}))
	require.NoError(t, s.SaveAggregate(&schema.AggregateRecord{
		Test: "modal_dialog", Model: "model-a",
		NSamples: 10, NPassed: 3,
		PassAtK: map[string]float64{"1": 0.3, "5": 0.9166666666666666},
		KValues: []int{1, 5},
	}))

	agg, err := s.GetAggregate("modal_dialog", "model-a")
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 10, agg.NSamples)
	assert.Equal(t, 3, agg.NPassed)
	assert.Len(t, agg.PassAtK, 2)
}

func TestGetAggregateMissing(t *testing.T) {
	s := openTestStore(t)
	agg, err := s.GetAggregate("unknown", "model-a")
	require.NoError(t, err)
	assert.Nil(t, agg)
}

func TestGroups(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-b", 0, schema.StatusPass)))
	require.NoError(t, s.SaveExecution(record("form_labels", "model-a", 0, schema.StatusPass)))
	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-a", 0, schema.StatusPass)))
	require.NoError(t, s.SaveExecution(record("modal_dialog", "model-a", 1, schema.StatusFail)))

	groups, err := s.Groups()
	require.NoError(t, err)
	assert.Equal(t, [][2]string{
		{"form_labels", "model-a"},
		{"modal_dialog", "model-a"},
		{"modal_dialog", "model-b"},
	}, groups)
}
