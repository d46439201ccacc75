package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kgraph.yaml")
	file := `
store:
  backend: badger
pipeline:
  workers: 4
  step_timeout: 5s
  budgets:
    embeddings: 1000
analytics:
  sparse_threshold: 0.2
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KG_CONFIG_FILE", path)
	t.Setenv("PIPELINE_WORKERS", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != "badger" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Pipeline.Workers != 6 {
		t.Fatalf("env must override file: workers = %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.StepTimeout != 5*time.Second {
		t.Fatalf("step timeout = %v", cfg.Pipeline.StepTimeout)
	}
	if cfg.Pipeline.Budgets.Embeddings != 1000 || cfg.Pipeline.Budgets.Analysis != 8000 {
		t.Fatalf("budgets = %+v", cfg.Pipeline.Budgets)
	}
	if cfg.Analytics.SparseThreshold != 0.2 || cfg.Analytics.MergeThreshold != 0.5 {
		t.Fatalf("analytics = %+v", cfg.Analytics)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"badger needs nothing", func(c *Config) { c.Store.Backend = "badger" }, true},
		{"postgres needs url", func(c *Config) {}, false},
		{"postgres with url", func(c *Config) { c.Store.DatabaseURL = "postgres://x" }, true},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, false},
		{"no workers", func(c *Config) { c.Store.Backend = "badger"; c.Pipeline.Workers = 0 }, false},
		{"bad threshold", func(c *Config) { c.Store.Backend = "badger"; c.Analytics.SparseThreshold = 2 }, false},
		{"bad source", func(c *Config) { c.Store.Backend = "badger"; c.Pipeline.ContentSource = "ftp" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
