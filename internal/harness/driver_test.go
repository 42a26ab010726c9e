package harness

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"a11yeval/internal/browser"
	"a11yeval/internal/schema"
)

type noopScript struct{}

func (noopScript) Run(rc *RunContext) error {
	rc.Assert("trivial", func() CheckResult { return Bool(true) })
	return nil
}

func TestRegistry(t *testing.T) {
	Register("registry_test_case", noopScript{})

	s, ok := Lookup("registry_test_case")
	assert.True(t, ok)
	assert.NotNil(t, s)

	_, ok = Lookup("never_registered")
	assert.False(t, ok)

	assert.Contains(t, RegisteredScripts(), "registry_test_case")

	assert.Panics(t, func() { Register("registry_test_case", noopScript{}) })
}

func TestExecuteWithoutBrowserProducesErrorRecord(t *testing.T) {
	// The driver must absorb every failure into a record, including an
	// execution context that cannot be acquired at all.
	d := NewDriver(browser.NewManager(browser.DefaultConfig(), nil), nil, nil)

	rec := d.Execute(context.Background(), Request{
		Test:    "no_browser",
		Content: "<html></html>",
		Timeout: time.Second,
	})
	require.NotNil(t, rec)
	assert.Equal(t, schema.StatusError, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.Empty(t, rec.Assertions)
	assert.Equal(t, "rod", rec.Engine)
	assert.NotZero(t, rec.CreatedAt)
}

func TestWriteRecord(t *testing.T) {
	rec := &schema.ExecutionRecord{
		Status:     schema.StatusPass,
		Assertions: []schema.AssertionRecord{{Name: "a", Status: schema.AssertionPass, Level: schema.LevelRequirement}},
		Engine:     "rod",
	}
	path := filepath.Join(t.TempDir(), "out", "record.json")
	require.NoError(t, WriteRecord(rec, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var back schema.ExecutionRecord
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, rec.Status, back.Status)
	assert.Equal(t, rec.Assertions, back.Assertions)
}
