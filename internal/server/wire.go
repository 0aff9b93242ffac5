package server

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/waypoint/config"
	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/mohammad-safakhou/waypoint/internal/aggregator"
	"github.com/mohammad-safakhou/waypoint/internal/capability"
	"github.com/mohammad-safakhou/waypoint/internal/chat"
	"github.com/mohammad-safakhou/waypoint/internal/memory/embedder"
	"github.com/mohammad-safakhou/waypoint/internal/memory/episodic"
	"github.com/mohammad-safakhou/waypoint/internal/memory/working"
	"github.com/mohammad-safakhou/waypoint/internal/orchestrator"
	"github.com/mohammad-safakhou/waypoint/internal/runtime"
	"github.com/mohammad-safakhou/waypoint/internal/store"
	"github.com/mohammad-safakhou/waypoint/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Components is the wired service graph shared by the serve and summarize
// commands.
type Components struct {
	Store      *store.Store
	Redis      *redis.Client // nil when redis is not configured
	Telemetry  *runtime.Telemetry
	Registry   *prometheus.Registry
	Metrics    *runtime.Metrics
	Memory     *working.Memory
	Recall     *episodic.Recall // nil when episodic memory is disabled
	Summarizer *episodic.Summarizer
	Sweeper    *episodic.Sweeper // nil without a schedule
	Chat       *chat.Service

	cache *embedder.Cached
}

// Build connects storage and providers and assembles every component.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}
	if err := c.build(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg *config.Config) error {
	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	if c.Store, err = store.NewWithDSN(ctx, dsn, cfg.Storage.Postgres.MaxConns); err != nil {
		return err
	}
	if c.Redis, err = runtime.NewRedis(ctx, cfg.Storage.Redis); err != nil {
		return err
	}
	tele, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    cfg.General.ServiceName,
		ServiceVersion: cfg.General.Version,
	})
	if err != nil {
		return err
	}
	c.Telemetry = tele

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = runtime.NewMetrics(c.Registry)

	providers, err := provider.NewSet(cfg.LLM, cfg.Memory.Episodic.EmbeddingDimensions)
	if err != nil {
		return err
	}
	emb, embModel, err := providers.Embedder(cfg.LLM.Routing.Embedding)
	if err != nil {
		return fmt.Errorf("llm.routing.embedding: %w", err)
	}
	gen, genModel, err := providers.Structured(cfg.LLM.Routing.Summarizer)
	if err != nil {
		return fmt.Errorf("llm.routing.summarizer: %w", err)
	}
	sanitizer, sanitizerModel, err := providers.Completer(cfg.LLM.Routing.Sanitizer)
	if err != nil {
		return fmt.Errorf("llm.routing.sanitizer: %w", err)
	}

	var locker episodic.Locker = episodic.NewLocalLocker()
	if c.Redis != nil {
		locker = episodic.NewRedisLocker(c.Redis)
	}

	mem := cfg.Memory
	c.Memory = working.New(c.Store, mem.Working.MaxPairs, c.Metrics, log.New(log.Writer(), "[MEMORY] ", log.LstdFlags))
	c.Summarizer = episodic.NewSummarizer(episodic.SummarizerOptions{
		History:        c.Memory,
		Summaries:      c.Store,
		Generator:      gen,
		Model:          genModel,
		Embedder:       emb,
		EmbeddingModel: embModel,
		Locker:         locker,
		LockTTL:        mem.Episodic.LockTTL,
		Timeout:        mem.Episodic.SummarizeTimeout,
		Tracer:         tracer,
		Metrics:        c.Metrics,
	})

	if mem.Episodic.Enabled {
		var queryEmbedder core.Embedder = emb
		if mem.Cache.Enabled {
			if c.cache, err = embedder.NewCached(emb, mem.Cache.MaxEntries, mem.Cache.TTL); err != nil {
				return err
			}
			queryEmbedder = c.cache
		}
		c.Recall = episodic.NewRecall(c.Store, queryEmbedder, embModel, mem.Episodic.SearchLimit, c.Metrics, nil)
		if mem.Episodic.Schedule != "" {
			c.Sweeper = &episodic.Sweeper{
				Sessions: c.Store,
				Updater:  c.Summarizer,
				Locker:   locker,
				Schedule: mem.Episodic.Schedule,
				Batch:    mem.Episodic.SweepBatch,
				LockTTL:  mem.Episodic.LockTTL,
			}
		}
	}

	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	registry, err := capability.FromConfig(cfg.Orchestrator, providers)
	if err != nil {
		return err
	}
	router, err := orchestrator.NewRouterFromConfig(ctx, cfg.Orchestrator, orchLogger)
	if err != nil {
		return err
	}
	runner := orchestrator.NewRunner(orchestrator.RunnerOptions{
		Registry:          registry,
		Router:            router,
		Instructions:      cfg.Orchestrator.Instructions,
		DefaultCapability: cfg.Orchestrator.DefaultCapability,
		Timeout:           cfg.Orchestrator.CapabilityTimeout,
		Tracer:            tracer,
		Logger:            orchLogger,
	})
	cleaner := aggregator.NewCleaner(sanitizer, sanitizerModel, cfg.Orchestrator.SanitizerTimeout)
	policy, err := chat.ParsePolicy(cfg.Server.FailurePolicy)
	if err != nil {
		return err
	}

	opts := chat.Options{
		Memory:     c.Memory,
		Runner:     runner,
		Aggregator: aggregator.New(cleaner, orchLogger),
		Policy:     policy,
		Metrics:    c.Metrics,
		Tracer:     tracer,
	}
	if c.Recall != nil {
		opts.Recall = c.Recall
	}
	c.Chat = chat.NewService(opts)
	return nil
}

// Close releases connections and flushes telemetry.
func (c *Components) Close() {
	if c == nil {
		return
	}
	if c.cache != nil {
		c.cache.Close()
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}
