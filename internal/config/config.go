// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	NewsAPI   NewsAPIConfig   `mapstructure:"newsapi"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Store     StoreConfig     `mapstructure:"store"`
	Inference InferenceConfig `mapstructure:"inference"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Images    ImagesConfig    `mapstructure:"images"`
	Server    ServerConfig    `mapstructure:"server"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NewsAPIConfig configures the upstream article API client.
type NewsAPIConfig struct {
	Keys              []string `mapstructure:"keys"`
	SearchURL         string   `mapstructure:"search_url"`
	HeadlinesURL      string   `mapstructure:"headlines_url"`
	Language          string   `mapstructure:"language"`
	PageSize          int      `mapstructure:"page_size"`
	HeadlinesPageSize int      `mapstructure:"headlines_page_size"`
	SortBy            string   `mapstructure:"sort_by"`
	LookbackDays      int      `mapstructure:"lookback_days"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	Burst             int      `mapstructure:"burst"`
}

// FetchConfig governs the topic fan-out.
type FetchConfig struct {
	Concurrency   int      `mapstructure:"concurrency"`
	Topics        []string `mapstructure:"topics"`
	SkipHeadlines bool     `mapstructure:"skip_headlines"`
}

// PipelineConfig selects stages and enrichment batching.
type PipelineConfig struct {
	BatchCeiling   int     `mapstructure:"batch_ceiling"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	LabelThreshold float64 `mapstructure:"label_threshold"`
	MultiLabel     bool    `mapstructure:"multi_label"`
	SkipFetch      bool    `mapstructure:"skip_fetch"`
	SkipStore      bool    `mapstructure:"skip_store"`
	SkipLabel      bool    `mapstructure:"skip_label"`
	SkipEmbed      bool    `mapstructure:"skip_embed"`
	SkipAnalyze    bool    `mapstructure:"skip_analyze"`
	EnableImages   bool    `mapstructure:"enable_images"`
}

// StoreConfig selects and configures the article store.
type StoreConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
	BadgerPath             string `mapstructure:"badger_path"`
}

// InferenceConfig points at the labeling and analysis service. An empty URL
// disables the label and analyze stages.
type InferenceConfig struct {
	URL            string   `mapstructure:"url"`
	APIKey         string   `mapstructure:"api_key"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	Categories     []string `mapstructure:"categories"`
	TopKeywords    int      `mapstructure:"top_keywords"`
}

// EmbeddingConfig configures the OpenAI-compatible embeddings endpoint. An
// empty model disables the embed stage.
type EmbeddingConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Token     string `mapstructure:"token"`
	BatchSize int    `mapstructure:"batch_size"`
}

// ImagesConfig configures the lead image scraper.
type ImagesConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Concurrency    int    `mapstructure:"concurrency"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	APIKey                 string `mapstructure:"api_key"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// RunnerConfig bounds queued API runs.
type RunnerConfig struct {
	QueueSize         int `mapstructure:"queue_size"`
	RunTimeoutMinutes int `mapstructure:"run_timeout_minutes"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// PubSubConfig holds metadata for run notifications. An empty topic disables
// publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"skip-fetch":   "pipeline.skip_fetch",
	"skip-store":   "pipeline.skip_store",
	"skip-label":   "pipeline.skip_label",
	"skip-embed":   "pipeline.skip_embed",
	"skip-analyze": "pipeline.skip_analyze",
	"images":       "pipeline.enable_images",
	"port":         "server.port",
}

// Load builds a Config from flags, environment, file and defaults, in that
// order of precedence. Only flags named in flagKeys are bound.
func Load(path string, flags ...*pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.NewsAPI.Keys = splitList(cfg.NewsAPI.Keys)
	cfg.Fetch.Topics = splitList(cfg.Fetch.Topics)
	cfg.Inference.Categories = splitList(cfg.Inference.Categories)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"newsapi.keys", "store.dsn", "inference.url", "inference.api_key", "embedding.base_url",
		"embedding.model", "embedding.token", "server.api_key", "pubsub.project_id", "pubsub.topic_name",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("newsapi.search_url", "https://newsapi.org/v2/everything")
	v.SetDefault("newsapi.headlines_url", "https://newsapi.org/v2/top-headlines")
	v.SetDefault("newsapi.language", "en")
	v.SetDefault("newsapi.page_size", 100)
	v.SetDefault("newsapi.headlines_page_size", 50)
	v.SetDefault("newsapi.sort_by", "relevancy")
	v.SetDefault("newsapi.lookback_days", 7)
	v.SetDefault("newsapi.timeout_seconds", 30)
	v.SetDefault("newsapi.requests_per_second", 0)
	v.SetDefault("newsapi.burst", 1)
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.topics", defaultTopics)
	v.SetDefault("pipeline.batch_ceiling", 5000)
	v.SetDefault("pipeline.chunk_size", 32)
	v.SetDefault("pipeline.label_threshold", 0.4)
	v.SetDefault("pipeline.multi_label", true)
	v.SetDefault("pipeline.skip_fetch", false)
	v.SetDefault("pipeline.skip_store", false)
	v.SetDefault("pipeline.skip_label", false)
	v.SetDefault("pipeline.skip_embed", false)
	v.SetDefault("pipeline.skip_analyze", false)
	v.SetDefault("pipeline.enable_images", false)
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.table", "articles")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.max_conn_lifetime_minutes", 30)
	v.SetDefault("store.migrate", true)
	v.SetDefault("store.badger_path", "data/articles")
	v.SetDefault("inference.timeout_seconds", 120)
	v.SetDefault("inference.categories", defaultCategories)
	v.SetDefault("inference.top_keywords", 10)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("images.user_agent", "article-pipeline/1.0")
	v.SetDefault("images.timeout_seconds", 10)
	v.SetDefault("images.concurrency", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("runner.queue_size", 4)
	v.SetDefault("runner.run_timeout_minutes", 120)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

var defaultTopics = []string{
	"artificial intelligence", "cybersecurity", "quantum computing", "space exploration",
	"stock market", "global economy", "interest rates", "climate change",
	"renewable energy", "medical research", "elections", "video games",
}

var defaultCategories = []string{
	"Artificial Intelligence", "Technology", "Science", "Space", "Politics",
	"World News", "Business", "Finance", "Economy", "Health", "Environment",
	"Climate", "Sports", "Entertainment", "Education", "Gaming", "Energy",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !c.Pipeline.SkipFetch {
		if len(c.NewsAPI.Keys) == 0 {
			return errors.New("newsapi.keys must be set when fetch is enabled")
		}
		if c.Fetch.Concurrency <= 0 {
			return errors.New("fetch.concurrency must be > 0")
		}
		if len(c.Fetch.Topics) == 0 && c.Fetch.SkipHeadlines {
			return errors.New("fetch.topics must be set when headlines are skipped")
		}
	}
	if c.NewsAPI.TimeoutSeconds <= 0 {
		return errors.New("newsapi.timeout_seconds must be > 0")
	}
	if c.Pipeline.BatchCeiling <= 0 {
		return errors.New("pipeline.batch_ceiling must be > 0")
	}
	if c.Pipeline.ChunkSize <= 0 {
		return errors.New("pipeline.chunk_size must be > 0")
	}
	if c.Pipeline.LabelThreshold < 0 || c.Pipeline.LabelThreshold > 1 {
		return errors.New("pipeline.label_threshold must be within [0,1]")
	}
	switch c.Store.Driver {
	case DriverMemory, DriverBadger:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, postgres, badger", c.Store.Driver)
	}
	if c.Store.Driver == DriverBadger && c.Store.BadgerPath == "" {
		return errors.New("store.badger_path must be set for the badger driver")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// NewsAPITimeout is the per-request timeout for the article API.
func (c Config) NewsAPITimeout() time.Duration {
	return time.Duration(c.NewsAPI.TimeoutSeconds) * time.Second
}

// LabelingEnabled reports whether an inference service is configured.
func (c Config) LabelingEnabled() bool {
	return c.Inference.URL != ""
}

// EmbeddingEnabled reports whether an embeddings model is configured.
func (c Config) EmbeddingEnabled() bool {
	return c.Embedding.Model != ""
}

// splitList accepts both YAML lists and a single comma separated value, which
// is how list settings arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
