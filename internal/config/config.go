// Package config collects the tunable settings of the server and worker.
// Compiled-in defaults are overridden by an optional YAML file named by
// KG_CONFIG_FILE, which is in turn overridden by individual env vars.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/prsnl/kgraph/internal/util"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	AI         AIConfig         `yaml:"ai"`
	Queue      QueueConfig      `yaml:"queue"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	AuthEnabled bool   `yaml:"auth_enabled"`
}

type StoreConfig struct {
	// Backend is "postgres" or "badger".
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
	// BadgerDir empty keeps the embedded store in memory.
	BadgerDir string `yaml:"badger_dir"`
}

// StepBudgets caps the characters each step sends upstream. Zero sends the
// full text.
type StepBudgets struct {
	Analysis       int `yaml:"analysis"`
	Categorization int `yaml:"categorization"`
	Summarization  int `yaml:"summarization"`
	Extraction     int `yaml:"extraction"`
	Embeddings     int `yaml:"embeddings"`
}

type PipelineConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	MaxRetries  int           `yaml:"max_retries"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	Budgets     StepBudgets   `yaml:"budgets"`
	// SummaryMinChars is the length content must exceed to be summarized.
	SummaryMinChars int `yaml:"summary_min_chars"`
	// ContentSource is "memory" or "s3".
	ContentSource string `yaml:"content_source"`
	// FetchLinks downloads the page of captured links that carry no text.
	FetchLinks bool `yaml:"fetch_links"`
}

type ExtractionConfig struct {
	CharBudget        int     `yaml:"char_budget"`
	TokenBudget       int     `yaml:"token_budget"`
	ProximityWindow   int     `yaml:"proximity_window"`
	DefaultConfidence float64 `yaml:"default_confidence"`
	DedupeBoost       float64 `yaml:"dedupe_boost"`
}

type AnalyticsConfig struct {
	SparseThreshold float64 `yaml:"sparse_threshold"`
	MergeThreshold  float64 `yaml:"merge_threshold"`
}

type AIConfig struct {
	// Adapter is "openai" or "ollama".
	Adapter     string        `yaml:"adapter"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Store:  StoreConfig{Backend: "postgres"},
		Pipeline: PipelineConfig{
			Workers:     10,
			QueueSize:   1000,
			MaxRetries:  3,
			StepTimeout: 60 * time.Second,
			Budgets: StepBudgets{
				Analysis:       8000,
				Categorization: 4000,
				Summarization:  0,
				Extraction:     5000,
				Embeddings:     2000,
			},
			SummaryMinChars: 500,
			ContentSource:   "memory",
			FetchLinks:      true,
		},
		Extraction: ExtractionConfig{
			CharBudget:        5000,
			ProximityWindow:   200,
			DefaultConfidence: 0.6,
			DedupeBoost:       0.1,
		},
		Analytics: AnalyticsConfig{SparseThreshold: 0.35, MergeThreshold: 0.5},
		AI:        AIConfig{Adapter: "openai", CallTimeout: 30 * time.Second},
		Queue:     QueueConfig{RetryDelay: 10 * time.Second},
	}
}

// Load builds the effective configuration.
func Load() (Config, error) {
	cfg := Default()
	if path := util.GetEnv("KG_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys missing from the file keep
// their current value.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = util.GetEnvString("PORT", c.Server.Port)
	c.Server.AuthEnabled = util.GetEnvBool("AUTH_ENABLED", c.Server.AuthEnabled)

	c.Store.Backend = util.GetEnvString("STORE_BACKEND", c.Store.Backend)
	c.Store.DatabaseURL = util.GetEnvString("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.BadgerDir = util.GetEnvString("BADGER_DIR", c.Store.BadgerDir)

	c.Pipeline.Workers = int(util.GetEnvNumeric("PIPELINE_WORKERS", c.Pipeline.Workers))
	c.Pipeline.QueueSize = int(util.GetEnvNumeric("PIPELINE_QUEUE_SIZE", c.Pipeline.QueueSize))
	c.Pipeline.MaxRetries = int(util.GetEnvNumeric("PIPELINE_MAX_RETRIES", c.Pipeline.MaxRetries))
	c.Pipeline.StepTimeout = util.GetEnvDuration("PIPELINE_STEP_TIMEOUT", c.Pipeline.StepTimeout)
	c.Pipeline.ContentSource = util.GetEnvString("CONTENT_SOURCE", c.Pipeline.ContentSource)
	c.Pipeline.FetchLinks = util.GetEnvBool("FETCH_LINKS", c.Pipeline.FetchLinks)

	c.Extraction.CharBudget = int(util.GetEnvNumeric("EXTRACT_CHAR_BUDGET", c.Extraction.CharBudget))
	c.Extraction.TokenBudget = int(util.GetEnvNumeric("EXTRACT_TOKEN_BUDGET", c.Extraction.TokenBudget))
	c.Extraction.ProximityWindow = int(util.GetEnvNumeric("EXTRACT_PROXIMITY_WINDOW", c.Extraction.ProximityWindow))

	c.Analytics.SparseThreshold = util.GetEnvFloat("GAPS_SPARSE_THRESHOLD", c.Analytics.SparseThreshold)
	c.Analytics.MergeThreshold = util.GetEnvFloat("CLUSTER_MERGE_THRESHOLD", c.Analytics.MergeThreshold)

	c.AI.Adapter = util.GetEnvString("AI_ADAPTER", c.AI.Adapter)
	c.AI.CallTimeout = util.GetEnvDuration("AI_CALL_TIMEOUT", c.AI.CallTimeout)

	c.Queue.Enabled = util.GetEnvBool("RABBITMQ_ENABLED", c.Queue.Enabled)
	c.Queue.RetryDelay = util.GetEnvDuration("RABBITMQ_RETRY_DELAY", c.Queue.RetryDelay)
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend")
		}
	case "badger":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Pipeline.ContentSource {
	case "memory", "s3":
	default:
		return fmt.Errorf("unknown content source %q", c.Pipeline.ContentSource)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative")
	}
	if c.Pipeline.StepTimeout <= 0 {
		return fmt.Errorf("pipeline.step_timeout must be positive")
	}
	if c.Analytics.SparseThreshold < 0 || c.Analytics.SparseThreshold > 1 {
		return fmt.Errorf("analytics.sparse_threshold must be within [0,1]")
	}
	if c.Analytics.MergeThreshold < 0 || c.Analytics.MergeThreshold > 1 {
		return fmt.Errorf("analytics.merge_threshold must be within [0,1]")
	}
	return nil
}
