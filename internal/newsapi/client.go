// Package newsapi fetches and cleans articles from a NewsAPI-compatible service.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/keypool"
	"github.com/JakeFAU/article-pipeline/internal/metrics"
)

// Endpoint labels used in logs and metrics.
const (
	EndpointEverything   = "everything"
	EndpointTopHeadlines = "top-headlines"
)

const maxBodyBytes = 8 << 20

// Config controls request shape and pacing.
type Config struct {
	SearchURL         string
	HeadlinesURL      string
	Language          string
	PageSize          int
	HeadlinesPageSize int
	SortBy            string
	LookbackDays      int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.SearchURL == "" {
		c.SearchURL = "https://newsapi.org/v2/everything"
	}
	if c.HeadlinesURL == "" {
		c.HeadlinesURL = "https://newsapi.org/v2/top-headlines"
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.HeadlinesPageSize <= 0 {
		c.HeadlinesPageSize = 50
	}
	if c.SortBy == "" {
		c.SortBy = "relevancy"
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 7
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Keys is the credential ring shared by one run.
type Keys interface {
	Current() (string, error)
	RotateFrom(key string) (string, error)
	Size() int
}

// Client performs single topic or headline retrievals.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cleaner *Cleaner
	now     func() time.Time
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithClock overrides the time source used for the recency window and fetched_at.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHTTPClient overrides the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cleaner = NewCleaner(c.now)
	return c
}

// FetchTopic searches one topic within the recency window.
func (c *Client) FetchTopic(ctx context.Context, keys Keys, seen Seen, topic, sortBy string) ([]article.Article, error) {
	if sortBy == "" {
		sortBy = c.cfg.SortBy
	}
	from := c.now().UTC().AddDate(0, 0, -c.cfg.LookbackDays).Format("2006-01-02")
	build := func(key string) string {
		q := url.Values{}
		q.Set("q", topic)
		q.Set("apiKey", key)
		q.Set("language", c.cfg.Language)
		q.Set("sortBy", sortBy)
		q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
		q.Set("from", from)
		return c.cfg.SearchURL + "?" + q.Encode()
	}
	return c.fetch(ctx, EndpointEverything, topic, keys, seen, build)
}

// FetchHeadlines retrieves the current top headlines tagged with the trending topic.
func (c *Client) FetchHeadlines(ctx context.Context, keys Keys, seen Seen) ([]article.Article, error) {
	build := func(key string) string {
		q := url.Values{}
		q.Set("apiKey", key)
		q.Set("language", c.cfg.Language)
		q.Set("pageSize", strconv.Itoa(c.cfg.HeadlinesPageSize))
		return c.cfg.HeadlinesURL + "?" + q.Encode()
	}
	return c.fetch(ctx, EndpointTopHeadlines, article.TrendingTopic, keys, seen, build)
}

// fetch runs the rotation loop. Only context cancellation is returned as an
// error; every upstream failure yields an empty result.
func (c *Client) fetch(
	ctx context.Context,
	endpoint string,
	topic string,
	keys Keys,
	seen Seen,
	build func(key string) string,
) ([]article.Article, error) {
	logger := c.logger.With(zap.String("endpoint", endpoint), zap.String("topic", topic))
	attempts := keys.Size()
	for attempt := 1; attempt <= attempts; attempt++ {
		key, err := keys.Current()
		if err != nil {
			logger.Warn("no usable api key", zap.Error(err))
			return nil, nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		status, payload, err := c.do(ctx, build(key))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch %s: %w", endpoint, ctx.Err())
			}
			metrics.ObserveFetchRequest(endpoint, "transport_error")
			logger.Error("transient network error", zap.Int("attempt", attempt), zap.Error(err))
			return nil, nil
		}

		failure := keypool.Classify(status, payload.Code+" "+payload.Message)
		if failure == keypool.FailureNone && payload.Status != "ok" {
			metrics.ObserveFetchRequest(endpoint, "payload_error")
			logger.Warn("upstream returned error payload",
				zap.String("code", payload.Code),
				zap.String("message", payload.Message),
			)
			return nil, nil
		}
		switch failure {
		case keypool.FailureKey:
			metrics.ObserveFetchRequest(endpoint, "key_failure")
			metrics.ObserveKeyRotation()
			logger.Warn("api key rejected, rotating",
				zap.Int("status", status),
				zap.Int("attempt", attempt),
				zap.String("message", payload.Message),
			)
			if _, err := keys.RotateFrom(key); errors.Is(err, keypool.ErrExhaustedKeys) {
				logger.Error("api keys exhausted", zap.Error(err))
				return nil, nil
			}
			continue
		case keypool.FailureRequest:
			metrics.ObserveFetchRequest(endpoint, "request_failure")
			logger.Warn("request failed", zap.Int("status", status), zap.String("message", payload.Message))
			return nil, nil
		}

		metrics.ObserveFetchRequest(endpoint, "ok")
		return c.cleanAll(payload.Articles, endpoint, topic, seen, logger), nil
	}
	logger.Warn("retry attempts used up", zap.Int("attempts", attempts))
	return nil, nil
}

func (c *Client) cleanAll(raw []RawArticle, endpoint, topic string, seen Seen, logger *zap.Logger) []article.Article {
	kind := "topic"
	if endpoint == EndpointTopHeadlines {
		kind = "headlines"
	}
	out := make([]article.Article, 0, len(raw))
	for _, r := range raw {
		a, reason, ok := c.cleaner.Clean(r, topic, seen)
		if !ok {
			metrics.ObserveRejected(reason)
			logger.Debug("article rejected", zap.String("reason", reason), zap.String("url", r.URL))
			continue
		}
		metrics.ObserveAccepted(kind)
		out = append(out, a)
	}
	logger.Info("fetched articles", zap.Int("received", len(raw)), zap.Int("accepted", len(out)))
	return out
}

// do performs one GET. A decode failure on a non-2xx body is not an error;
// the status alone drives classification.
func (c *Client) do(ctx context.Context, target string) (int, Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, Response{}, fmt.Errorf("send request: %w", redact(err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, Response{}, fmt.Errorf("read body: %w", err)
	}
	var payload Response
	if err := json.Unmarshal(body, &payload); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			payload = Response{Status: "error", Code: "decode", Message: err.Error()}
		}
	}
	return resp.StatusCode, payload, nil
}

// redact strips the query string, and with it the api key, from url errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
		}
	}
	return err
}
