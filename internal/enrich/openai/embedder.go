// Package openai implements enrich.Embedder over any OpenAI-compatible
// embeddings endpoint.
package openai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/enrich"
)

// Config selects the embedding endpoint and model.
type Config struct {
	BaseURL string
	Model   string
	// Token may be empty for local services that skip authentication.
	Token     string
	BatchSize int
}

// Embedder implements enrich.Embedder.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
}

var _ enrich.Embedder = (*Embedder)(nil)

// NewEmbedder builds an embedder from cfg.
func NewEmbedder(cfg Config, logger *zap.Logger) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding.model is required")
	}
	token := cfg.Token
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewEmbedderWithClient(client, cfg.BatchSize, logger)
}

// NewEmbedderWithClient wraps an existing embeddings client.
func NewEmbedderWithClient(client embeddings.EmbedderClient, batchSize int, logger *zap.Logger) (*Embedder, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{embedder: embedder, logger: logger}, nil
}

// EmbedBatch embeds each article's title, description and content preview.
func (e *Embedder) EmbedBatch(ctx context.Context, articles []article.Article) ([]article.EmbeddingResult, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = enrich.EmbeddingText(a)
	}
	e.logger.Debug("generating embeddings", zap.Int("count", len(texts)))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(articles) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d articles", len(vectors), len(articles))
	}

	out := make([]article.EmbeddingResult, 0, len(articles))
	for i, v := range vectors {
		if len(v) == 0 {
			e.logger.Warn("empty embedding", zap.String("id", articles[i].ID))
			continue
		}
		out = append(out, article.EmbeddingResult{ID: articles[i].ID, Vector: v})
	}
	return out, nil
}
