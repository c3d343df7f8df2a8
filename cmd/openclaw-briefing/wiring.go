package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/agent"
	"github.com/ajitpratap0/openclaw-briefing/internal/composer"
	"github.com/ajitpratap0/openclaw-briefing/internal/embedder"
	"github.com/ajitpratap0/openclaw-briefing/internal/ingest"
	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/lifecycle"
	"github.com/ajitpratap0/openclaw-briefing/internal/llm"
	"github.com/ajitpratap0/openclaw-briefing/internal/pipeline"
	"github.com/ajitpratap0/openclaw-briefing/internal/scoring"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

// app holds the collaborators every command builds from config.
type app struct {
	logger   *slog.Logger
	store    store.Store
	graph    store.KnowledgeStore
	client   llm.Client
	embedder embedder.Embedder
	engine   *knowledge.Engine
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp opens storage and builds the shared collaborators. The LLM client
// is nil when no API key is configured.
func newApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	st, err := openStore(ctx, logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.graph = st
	a.closers = append(a.closers, func() { _ = st.Close() })

	if cfg.Neo4j.URI != "" {
		n4j, err := store.NewNeo4jKnowledgeStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := n4j.EnsureSchema(ctx); err != nil {
			_ = n4j.Close(ctx)
			a.Close()
			return nil, err
		}
		a.graph = n4j
		a.closers = append(a.closers, func() { _ = n4j.Close(context.Background()) })
	}

	if cfg.Claude.APIKey != "" {
		a.client = llm.NewRetryClient(
			llm.NewAnthropicClient(cfg.Claude.APIKey, cfg.Claude.Model, logger),
			llm.DefaultRetryPolicy(cfg.Claude.MaxRetries),
			logger,
		)
	} else {
		logger.Warn("no Claude API key configured; agent, composer and gap scans are unavailable")
	}

	if cfg.Ollama.BaseURL != "" {
		a.embedder = embedder.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Dimension, logger)
	}

	a.engine = knowledge.NewEngine(a.graph, st, st, a.client, knowledge.PolicyFromConfig(cfg.Knowledge), logger)
	return a, nil
}

func openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("using in-memory store; nothing is persisted")
		return store.NewMockStore(), nil
	}
	db, err := store.OpenSQL(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}
	st := store.NewSQLStore(db, logger)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return st, nil
}

// newIngester builds the adapter set enabled by config.
func (a *app) newIngester() *ingest.Orchestrator {
	timeout := time.Duration(cfg.Ingest.HTTPTimeoutSecs) * time.Second
	var adapters []ingest.Adapter
	if cfg.Ingest.NewsAPIKey != "" {
		news := ingest.NewNewsAdapter(ingest.NewsConfig{
			BaseURL:    cfg.Ingest.NewsAPIURL,
			APIKey:     cfg.Ingest.NewsAPIKey,
			RatePerSec: cfg.Ingest.NewsRatePerSec,
			MaxResults: cfg.Ingest.MaxResults,
			Timeout:    timeout,
		})
		adapters = append(adapters, news, ingest.NewPersonalGraphAdapter(news))
	} else {
		a.logger.Warn("no news API key configured; news and personal-graph sources are disabled")
	}
	adapters = append(adapters,
		ingest.NewResearchAdapter(cfg.Ingest.ArxivAPIURL, cfg.Ingest.ArxivRatePerSec, cfg.Ingest.MaxResults, timeout),
		ingest.NewFeedAdapter(cfg.Ingest.FeedRatePerSec, cfg.Ingest.MaxResults, timeout),
	)
	if cfg.Ingest.MailboxDir != "" {
		adapters = append(adapters, ingest.NewNewsletterAdapter(ingest.NewDirMailbox(cfg.Ingest.MailboxDir)))
	}
	return ingest.NewOrchestrator(adapters, a.store, a.store, a.embedder, ingest.Options{
		Concurrency: cfg.Ingest.Concurrency,
		Lookback:    cfg.Ingest.Lookback(),
		MaxQueries:  cfg.Ingest.MaxQueries,
	}, a.logger)
}

// newOrchestrator wires the full pipeline. It needs a language model.
func (a *app) newOrchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	if a.client == nil {
		return nil, errors.New("claude.api_key (ANTHROPIC_API_KEY) is required to run the pipeline")
	}
	progress, err := a.newProgress(ctx)
	if err != nil {
		return nil, err
	}
	var deliverer pipeline.Deliverer = pipeline.NewLogDeliverer(a.logger)
	if cfg.Delivery.WebhookURL != "" {
		deliverer = pipeline.NewWebhookDeliverer(cfg.Delivery.WebhookURL, a.logger)
	}
	composeModel := cfg.Claude.ComposeModel
	if composeModel == "" {
		composeModel = cfg.Claude.Model
	}
	return pipeline.NewOrchestrator(pipeline.Deps{
		Store:      a.store,
		Ingester:   a.newIngester(),
		Maintainer: lifecycle.NewManager(a.engine, a.logger),
		Knowledge:  a.engine,
		Scorer:     scoring.NewScorer(scoring.OptionsFromConfig(cfg.Scoring), a.logger),
		Agent:      agent.New(a.client, a.engine, a.store, agent.OptionsFromConfig(cfg), a.logger),
		Composer:   composer.New(a.client, composeModel, a.logger),
		Deliverer:  deliverer,
		Progress:   progress,
		Embedder:   a.embedder,
	}, pipeline.Options{
		Lookback:         cfg.Ingest.Lookback(),
		BatchConcurrency: cfg.Batch.Concurrency,
	}, a.logger)
}

func (a *app) newProgress(ctx context.Context) (pipeline.ProgressTracker, error) {
	ttl := cfg.Batch.ProgressTTLDuration()
	if cfg.Redis.Addr == "" {
		return pipeline.NewMemoryProgress(ttl), nil
	}
	client, err := pipeline.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return pipeline.NewRedisProgress(client, ttl), nil
}
