package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1, cfg.Sampling.Samples)
	assert.Equal(t, []int{1}, cfg.Sampling.KValues)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
test_cases_dir: cases
models:
  - name: model-a
    provider: openai
  - name: model-b
sampling:
  samples: 10
  k_values: [1, 5, 10]
  run_timeout_ms: 90000
browser:
  viewport_width: 1920
cache:
  disabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cases", cfg.TestCasesDir)
	assert.Equal(t, "results", cfg.OutputDir, "unset keys keep defaults")
	require.Len(t, cfg.Models, 2)
	assert.Equal(t, "model-a", cfg.Models[0].Name)
	assert.Equal(t, 10, cfg.Sampling.Samples)
	assert.Equal(t, []int{1, 5, 10}, cfg.Sampling.KValues)
	assert.Equal(t, 90*time.Second, cfg.Sampling.RunTimeout())
	assert.Equal(t, 1920, cfg.Browser.ViewportWidth)
	assert.True(t, cfg.Cache.Disabled)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\t not yaml ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveK(t *testing.T) {
	// A bad k must fail at load time; letting it through would only surface
	// later as a dropped aggregate.
	for _, kvals := range []string{"[0]", "[1, -3]"} {
		path := filepath.Join(t.TempDir(), "eval.yaml")
		require.NoError(t, os.WriteFile(path, []byte("sampling:\n  k_values: "+kvals+"\n"), 0o644))
		_, err := Load(path)
		assert.Error(t, err, "k_values %s", kvals)
	}
}

func TestRunTimeoutDefault(t *testing.T) {
	assert.Equal(t, time.Minute, SamplingConfig{}.RunTimeout())
	assert.Equal(t, 500*time.Millisecond, SamplingConfig{RunTimeoutMs: 500}.RunTimeout())
}

func TestLoadNormalizesSampling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sampling:\n  samples: 0\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Sampling.Samples)
	assert.Equal(t, []int{1}, cfg.Sampling.KValues)
}
