// Package config loads the evaluation configuration: which test cases and
// models to run, browser and audit settings, sampling parameters, and
// storage locations. Values come from an optional YAML file layered over
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"a11yeval/internal/audit"
	"a11yeval/internal/browser"
)

// ModelConfig identifies one model under evaluation. Endpoint and APIKeyEnv
// are passed through to the external generator.
type ModelConfig struct {
	Name      string `yaml:"name"`
	Provider  string `yaml:"provider,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// SamplingConfig controls how many independent generations each
// (test, model) group collects and which pass@k values to report.
type SamplingConfig struct {
	Samples      int      `yaml:"samples"`
	KValues      []int    `yaml:"k_values"`
	BaseSeed     *int64   `yaml:"base_seed,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	RunTimeoutMs int      `yaml:"run_timeout_ms"`
}

// RunTimeout returns the per-execution deadline, defaulting to one minute.
func (s SamplingConfig) RunTimeout() time.Duration {
	if s.RunTimeoutMs <= 0 {
		return time.Minute
	}
	return time.Duration(s.RunTimeoutMs) * time.Millisecond
}

// CacheConfig locates the content-addressed sample cache.
type CacheConfig struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// StoreConfig locates the durable results database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Config is the top-level evaluation configuration.
type Config struct {
	TestCasesDir string         `yaml:"test_cases_dir"`
	OutputDir    string         `yaml:"output_dir"`
	Models       []ModelConfig  `yaml:"models"`
	Browser      browser.Config `yaml:"browser"`
	Audit        audit.Config   `yaml:"audit"`
	Sampling     SamplingConfig `yaml:"sampling"`
	Cache        CacheConfig    `yaml:"cache"`
	Store        StoreConfig    `yaml:"store"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		TestCasesDir: "testcases",
		OutputDir:    "results",
		Browser:      browser.DefaultConfig(),
		Audit:        audit.DefaultConfig(),
		Sampling: SamplingConfig{
			Samples: 1,
			KValues: []int{1},
		},
		Cache: CacheConfig{Dir: ".a11yeval-cache"},
		Store: StoreConfig{Path: "results/results.db"},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Sampling.Samples <= 0 {
		cfg.Sampling.Samples = 1
	}
	if len(cfg.Sampling.KValues) == 0 {
		cfg.Sampling.KValues = []int{1}
	}
	for _, k := range cfg.Sampling.KValues {
		if k <= 0 {
			return nil, fmt.Errorf("parse config %s: invalid k value %d (require k > 0)", path, k)
		}
	}
	return cfg, nil
}
