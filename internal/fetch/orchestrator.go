// Package fetch fans article retrieval out across topics for a single run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/dedup"
	"github.com/JakeFAU/article-pipeline/internal/keypool"
	"github.com/JakeFAU/article-pipeline/internal/newsapi"
)

const defaultConcurrency = 5

// Client is the single-request fetcher driven by the orchestrator.
type Client interface {
	FetchTopic(ctx context.Context, keys newsapi.Keys, seen newsapi.Seen, topic, sortBy string) ([]article.Article, error)
	FetchHeadlines(ctx context.Context, keys newsapi.Keys, seen newsapi.Seen) ([]article.Article, error)
}

// Config controls fan-out.
type Config struct {
	Concurrency   int
	SortBy        string
	SkipHeadlines bool
}

// Result is the merged output of one FetchAll call.
type Result struct {
	Articles      []article.Article
	Headlines     int
	Topics        int
	FailedTopics  []string
	SkippedTopics []string
	FailedKeys    int
}

// Orchestrator owns the configured credentials and builds fresh per-run state
// for every FetchAll call.
type Orchestrator struct {
	client Client
	keys   []string
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(client Client, keys []string, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		client: client,
		keys:   append([]string(nil), keys...),
		cfg:    cfg,
		logger: logger,
	}
}

// FetchAll retrieves headlines, then every topic under the concurrency bound.
// Individual task failures are logged and never abort siblings. The returned
// error is non-nil only for setup failures, cancellation, or when the key
// ring ran dry; the partial result is still returned in the last two cases.
func (o *Orchestrator) FetchAll(ctx context.Context, topics []string) (Result, error) {
	keys, err := keypool.New(o.keys)
	if err != nil {
		return Result{}, fmt.Errorf("fetch setup: %w", err)
	}
	workers, err := ants.NewPool(o.cfg.Concurrency)
	if err != nil {
		return Result{}, fmt.Errorf("fetch worker pool: %w", err)
	}
	defer workers.Release()

	seen := dedup.New(nil)
	var res Result

	if !o.cfg.SkipHeadlines {
		headlines, herr := o.runTask(article.TrendingTopic, func() ([]article.Article, error) {
			return o.client.FetchHeadlines(ctx, keys, seen)
		})
		if herr != nil {
			o.logger.Warn("headlines fetch failed", zap.Error(herr))
		}
		res.Headlines = len(headlines)
		res.Articles = append(res.Articles, headlines...)
	}

	cleaned := normalizeTopics(topics)
	res.Topics = len(cleaned)
	perTopic := make([][]article.Article, len(cleaned))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, topic := range cleaned {
		i, topic := i, topic
		wg.Add(1)
		submitErr := workers.Submit(func() {
			defer wg.Done()
			if keys.Exhausted() || ctx.Err() != nil {
				mu.Lock()
				res.SkippedTopics = append(res.SkippedTopics, topic)
				mu.Unlock()
				return
			}
			arts, terr := o.runTask(topic, func() ([]article.Article, error) {
				return o.client.FetchTopic(ctx, keys, seen, topic, o.cfg.SortBy)
			})
			mu.Lock()
			defer mu.Unlock()
			if terr != nil {
				res.FailedTopics = append(res.FailedTopics, topic)
				o.logger.Warn("topic fetch failed", zap.String("topic", topic), zap.Error(terr))
			}
			perTopic[i] = arts
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			res.FailedTopics = append(res.FailedTopics, topic)
			mu.Unlock()
			o.logger.Error("submit topic task failed", zap.String("topic", topic), zap.Error(submitErr))
		}
	}
	wg.Wait()

	for _, arts := range perTopic {
		res.Articles = append(res.Articles, arts...)
	}
	res.FailedKeys = keys.Failed()

	o.logger.Info("fetch complete",
		zap.Int("articles", len(res.Articles)),
		zap.Int("headlines", res.Headlines),
		zap.Int("topics", res.Topics),
		zap.Int("failed_topics", len(res.FailedTopics)),
		zap.Int("skipped_topics", len(res.SkippedTopics)),
		zap.Int("failed_keys", res.FailedKeys),
	)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("fetch canceled: %w", err)
	}
	if keys.Exhausted() {
		return res, fmt.Errorf("fetch topics: %w", keypool.ErrExhaustedKeys)
	}
	return res, nil
}

// runTask isolates one fetch so a panic in a task is reported like an error.
func (o *Orchestrator) runTask(topic string, fn func() ([]article.Article, error)) (arts []article.Article, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("fetch task panicked", zap.String("topic", topic), zap.Any("panic", rec))
			arts = nil
			err = fmt.Errorf("%w: %v", errTaskPanic, rec)
		}
	}()
	return fn()
}

var errTaskPanic = errors.New("fetch task panicked")

func normalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
