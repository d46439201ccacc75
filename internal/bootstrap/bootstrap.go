// Package bootstrap wires the collaborators shared by the server and worker
// binaries from the effective configuration.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/prsnl/kgraph/internal/config"
	"github.com/prsnl/kgraph/internal/db"
	"github.com/prsnl/kgraph/internal/metrics"
	"github.com/prsnl/kgraph/internal/pipeline"
	"github.com/prsnl/kgraph/internal/queue"
	"github.com/prsnl/kgraph/internal/storage"
	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/ai"
	oai "github.com/prsnl/kgraph/pkg/ai/ollama"
	gai "github.com/prsnl/kgraph/pkg/ai/openai"
	"github.com/prsnl/kgraph/pkg/graph"
	"github.com/prsnl/kgraph/pkg/leaselock"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/store"
	kgbadger "github.com/prsnl/kgraph/pkg/store/badger"
	kgpgx "github.com/prsnl/kgraph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
)

// Runtime holds everything a process needs to serve requests and run jobs.
type Runtime struct {
	Config       config.Config
	Store        store.GraphStorage
	Pool         *pgxpool.Pool
	AI           ai.GraphAIClient
	Metrics      *metrics.Collector
	Orchestrator *pipeline.Orchestrator

	Queue     *amqp091.Connection
	Channel   *amqp091.Channel
	Publisher *queue.Publisher
}

// Setup opens the stores, the AI client and the optional broker connection
// and builds the orchestrator on top of them.
func Setup(ctx context.Context, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Metrics: metrics.New()}
	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	client, err := NewAIClient(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.AI = client

	content, err := newContentSource(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if cfg.Pipeline.FetchLinks {
		content = storage.NewWebContent(content, nil)
	}

	if cfg.Queue.Enabled {
		if err := rt.openQueue(); err != nil {
			rt.Close()
			return nil, err
		}
	}

	deps := pipeline.Deps{
		Content: content,
		Client:  client,
		Store:   rt.Store,
		Extractor: graph.NewExtractor(rt.Store, client, graph.Options{
			CharBudget:        cfg.Extraction.CharBudget,
			TokenBudget:       cfg.Extraction.TokenBudget,
			ProximityWindow:   cfg.Extraction.ProximityWindow,
			DefaultConfidence: cfg.Extraction.DefaultConfidence,
			DedupeBoost:       cfg.Extraction.DedupeBoost,
		}),
		Metrics: rt.Metrics,
	}
	if rt.Pool != nil {
		deps.Jobs = pipeline.NewPgJobStore(rt.Pool)
		deps.Sink = pipeline.NewPgSink(rt.Pool)
		deps.Leases = leaselock.New(rt.Pool, leaselock.Options{TokenPrefix: "kgraph-"})
	} else {
		deps.Jobs = pipeline.NewMemoryJobStore()
	}
	if rt.Publisher != nil {
		deps.Events = rt.Publisher
		deps.Retries = rt.Publisher
	}

	b := cfg.Pipeline.Budgets
	o, err := pipeline.New(pipeline.Options{
		Workers:     cfg.Pipeline.Workers,
		QueueSize:   cfg.Pipeline.QueueSize,
		MaxRetries:  cfg.Pipeline.MaxRetries,
		StepTimeout: cfg.Pipeline.StepTimeout,
		Budgets: pipeline.Budgets{
			Analysis:       b.Analysis,
			Categorization: b.Categorization,
			Summarization:  b.Summarization,
			Extraction:     b.Extraction,
			Embeddings:     b.Embeddings,
		},
		SummaryMinChars: cfg.Pipeline.SummaryMinChars,
	}, deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Orchestrator = o
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	switch rt.Config.Store.Backend {
	case "postgres":
		if err := db.Migrate(rt.Config.Store.DatabaseURL); err != nil {
			return err
		}
		pool, err := db.Connect(ctx, rt.Config.Store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.Pool = pool
		rt.Store = kgpgx.NewGraphDBStorageWithConnection(pool)
	case "badger":
		s, err := kgbadger.Open(kgbadger.Options{
			Dir:      rt.Config.Store.BadgerDir,
			InMemory: rt.Config.Store.BadgerDir == "",
		})
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		rt.Store = s
	default:
		return fmt.Errorf("unknown store backend %q", rt.Config.Store.Backend)
	}
	logger.Info("[Store] Graph store ready", "backend", rt.Config.Store.Backend)
	return nil
}

func (rt *Runtime) openQueue() error {
	rt.Queue = queue.Init()
	ch, err := rt.Queue.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	rt.Channel = ch
	if err := queue.SetupQueues(ch, []string{queue.ProcessQueue}, rt.Config.Queue.RetryDelay); err != nil {
		return err
	}
	rt.Publisher = queue.NewPublisher(ch)
	return nil
}

func (rt *Runtime) Close() {
	if rt.Channel != nil {
		_ = rt.Channel.Close()
	}
	if rt.Queue != nil {
		_ = rt.Queue.Close()
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			logger.Error("[Store] Failed to close store", "err", err)
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

// NewAIClient builds the configured backend behind a circuit breaker.
func NewAIClient(cfg config.Config) (ai.GraphAIClient, error) {
	var client ai.GraphAIClient
	switch cfg.AI.Adapter {
	case "ollama":
		c, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbeddingDim:     int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		client = c
	case "openai", "":
		client = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:   util.GetEnv("AI_EMBED_MODEL"),
			DescriptionModel: util.GetEnv("AI_CHAT_DESCRIBE_MODEL"),
			ExtractionModel:  util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbeddingDim:     int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		})
	default:
		return nil, fmt.Errorf("unknown AI adapter %q", cfg.AI.Adapter)
	}
	return ai.NewBreakerClient(client, cfg.AI.Adapter, cfg.AI.CallTimeout), nil
}

func newContentSource(ctx context.Context, cfg config.Config) (pipeline.ContentSource, error) {
	switch cfg.Pipeline.ContentSource {
	case "s3":
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		bucket := util.GetEnv("AWS_BUCKET")
		if bucket == "" {
			return nil, errors.New("AWS_BUCKET is required for the s3 content source")
		}
		return storage.NewS3Content(client, bucket, util.GetEnv("AWS_CONTENT_PREFIX")), nil
	default:
		return loadMemoryContent(util.GetEnv("CONTENT_FILE"))
	}
}

// loadMemoryContent seeds the in-memory source from a JSON array of content
// items. An empty path gives an empty source.
func loadMemoryContent(path string) (*pipeline.MemoryContent, error) {
	src := pipeline.NewMemoryContent()
	if path == "" {
		return src, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}
	var items []pipeline.ContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse content file %s: %w", path, err)
	}
	for _, item := range items {
		src.Put(item)
	}
	logger.Info("[Pipeline] Loaded content items", "count", len(items), "file", path)
	return src, nil
}
