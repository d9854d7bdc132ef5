// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/config"
	"github.com/JakeFAU/article-pipeline/internal/enrich/images"
	"github.com/JakeFAU/article-pipeline/internal/enrich/inference"
	"github.com/JakeFAU/article-pipeline/internal/enrich/openai"
	"github.com/JakeFAU/article-pipeline/internal/fetch"
	"github.com/JakeFAU/article-pipeline/internal/metrics"
	"github.com/JakeFAU/article-pipeline/internal/newsapi"
	"github.com/JakeFAU/article-pipeline/internal/pipeline"
	"github.com/JakeFAU/article-pipeline/internal/progress"
	"github.com/JakeFAU/article-pipeline/internal/progress/sinks"
	"github.com/JakeFAU/article-pipeline/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/article-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/article-pipeline/internal/runner"
	badgerstore "github.com/JakeFAU/article-pipeline/internal/storage/badger"
	"github.com/JakeFAU/article-pipeline/internal/storage/memory"
	"github.com/JakeFAU/article-pipeline/internal/storage/postgres"
)

// App holds the shared services built from one Config.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     article.Store
	publisher publisher.Publisher
	hub       *progress.Hub
	runs      *runner.Store
	scheduler *pipeline.Scheduler
}

// Options overrides process-wide defaults, mainly for tests.
type Options struct {
	// Registerer receives the progress collectors. Nil means the default registry.
	Registerer prometheus.Registerer
}

// New builds every service named by cfg. It fails fast when the article store
// cannot be opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, runs: runner.NewStore()}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	if a.store, err = openStore(ctx, cfg.Store, logger.Named("store")); err != nil {
		return nil, err
	}
	if a.publisher, err = newPublisher(ctx, cfg.PubSub, logger); err != nil {
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger.Named("progress"),
	},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewRunSink(a.runs, logger.Named("progress")),
	)

	deps, err := a.pipelineDeps()
	if err != nil {
		return nil, err
	}
	a.scheduler, err = pipeline.New(pipeline.Config{
		Topics:         cfg.Fetch.Topics,
		BatchCeiling:   cfg.Pipeline.BatchCeiling,
		ChunkSize:      cfg.Pipeline.ChunkSize,
		LabelThreshold: cfg.Pipeline.LabelThreshold,
		MultiLabel:     cfg.Pipeline.MultiLabel,
		SkipFetch:      cfg.Pipeline.SkipFetch,
		SkipStore:      cfg.Pipeline.SkipStore,
		SkipLabel:      cfg.Pipeline.SkipLabel,
		SkipEmbed:      cfg.Pipeline.SkipEmbed,
		SkipAnalyze:    cfg.Pipeline.SkipAnalyze,
		EnableImages:   cfg.Pipeline.EnableImages,
		NotifyTopic:    cfg.PubSub.TopicName,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("fetch", deps.Fetcher != nil),
		zap.Bool("label", deps.Labeler != nil),
		zap.Bool("embed", deps.Embedder != nil),
		zap.Bool("images", deps.Images != nil),
		zap.Bool("notify", cfg.PubSub.TopicName != ""),
	)
	return a, nil
}

// pipelineDeps assigns only the collaborators that are configured, so an
// unconfigured stage reports disabled.
func (a *App) pipelineDeps() (pipeline.Deps, error) {
	cfg := a.cfg
	deps := pipeline.Deps{
		Store:     a.store,
		Progress:  a.hub,
		Publisher: a.publisher,
		Logger:    a.logger.Named("pipeline"),
	}
	if !cfg.Pipeline.SkipFetch {
		client := newsapi.New(newsapi.Config{
			SearchURL:         cfg.NewsAPI.SearchURL,
			HeadlinesURL:      cfg.NewsAPI.HeadlinesURL,
			Language:          cfg.NewsAPI.Language,
			PageSize:          cfg.NewsAPI.PageSize,
			HeadlinesPageSize: cfg.NewsAPI.HeadlinesPageSize,
			SortBy:            cfg.NewsAPI.SortBy,
			LookbackDays:      cfg.NewsAPI.LookbackDays,
			Timeout:           cfg.NewsAPITimeout(),
			RequestsPerSecond: cfg.NewsAPI.RequestsPerSecond,
			Burst:             cfg.NewsAPI.Burst,
		}, a.logger.Named("newsapi"))
		deps.Fetcher = fetch.New(client, cfg.NewsAPI.Keys, fetch.Config{
			Concurrency:   cfg.Fetch.Concurrency,
			SortBy:        cfg.NewsAPI.SortBy,
			SkipHeadlines: cfg.Fetch.SkipHeadlines,
		}, a.logger.Named("fetch"))
	}
	if cfg.LabelingEnabled() {
		client, err := inference.NewClient(inference.Config{
			URL:         cfg.Inference.URL,
			APIKey:      cfg.Inference.APIKey,
			Timeout:     time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
			Categories:  cfg.Inference.Categories,
			TopKeywords: cfg.Inference.TopKeywords,
		}, a.logger.Named("inference"))
		if err != nil {
			return pipeline.Deps{}, fmt.Errorf("build inference client: %w", err)
		}
		deps.Labeler = client
		deps.Analyzer = client
	}
	if cfg.EmbeddingEnabled() {
		embedder, err := openai.NewEmbedder(openai.Config{
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Token:     cfg.Embedding.Token,
			BatchSize: cfg.Embedding.BatchSize,
		}, a.logger.Named("embedder"))
		if err != nil {
			return pipeline.Deps{}, fmt.Errorf("build embedder: %w", err)
		}
		deps.Embedder = embedder
	}
	if cfg.Pipeline.EnableImages {
		deps.Images = images.New(images.Config{
			UserAgent:   cfg.Images.UserAgent,
			Timeout:     time.Duration(cfg.Images.TimeoutSeconds) * time.Second,
			Concurrency: cfg.Images.Concurrency,
		}, a.logger.Named("images"))
	}
	return deps, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (article.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewArticleStore(ctx, postgres.Config{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeMinutes) * time.Minute,
			Migrate:         cfg.Migrate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverBadger:
		store, err := badgerstore.NewArticleStore(cfg.BadgerPath, false, logger)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return store, nil
	case config.DriverMemory, "":
		logger.Warn("using in-memory article store; documents are lost on exit")
		return memory.NewArticleStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (publisher.Publisher, error) {
	if cfg.TopicName == "" {
		return publisher.Noop{}, nil
	}
	logger.Info("publishing run notifications", zap.String("project", cfg.ProjectID), zap.String("topic", cfg.TopicName))
	p, err := pubsubpublisher.New(ctx, cfg.ProjectID, cfg.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	return p, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Store returns the article store.
func (a *App) Store() article.Store { return a.store }

// Scheduler returns the stage scheduler.
func (a *App) Scheduler() *pipeline.Scheduler { return a.scheduler }

// Runs returns the run record store fed by progress events.
func (a *App) Runs() *runner.Store { return a.runs }

// Ready reports whether the article store is reachable.
func (a *App) Ready(ctx context.Context) error {
	pinger, ok := a.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return pinger.Ping(ctx)
}

// Close flushes progress events and releases every service. It is safe to
// call on a partially built App.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	var errs []error
	if a.hub != nil {
		errs = append(errs, a.hub.Close(ctx))
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
