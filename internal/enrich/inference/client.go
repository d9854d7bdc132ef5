// Package inference talks to the model-serving service that performs
// zero-shot labeling, keyword extraction and sentiment analysis.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/enrich"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultTopKeywords = 10
)

// Config configures the service client.
type Config struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	Categories  []string
	TopKeywords int
}

// Client implements enrich.Labeler and enrich.Analyzer over HTTP.
type Client struct {
	endpoint    string
	apiKey      string
	categories  []string
	topKeywords int
	http        *http.Client
	logger      *zap.Logger
}

var (
	_ enrich.Labeler  = (*Client)(nil)
	_ enrich.Analyzer = (*Client)(nil)
)

// NewClient creates a reusable client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("inference.url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TopKeywords <= 0 {
		cfg.TopKeywords = defaultTopKeywords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:    strings.TrimRight(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		categories:  append([]string(nil), cfg.Categories...),
		topKeywords: cfg.TopKeywords,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}, nil
}

type item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type labelRequest struct {
	Items      []item   `json:"items"`
	Categories []string `json:"categories,omitempty"`
	MultiLabel bool     `json:"multi_label"`
}

type labelResponse struct {
	Results []struct {
		ID     string         `json:"id"`
		Scores []enrich.Score `json:"scores"`
	} `json:"results"`
}

// LabelBatch classifies titles and descriptions and keeps categories per
// enrich.SelectCategories. Articles the service returns no scores for get no
// result.
func (c *Client) LabelBatch(
	ctx context.Context,
	articles []article.Article,
	multiLabel bool,
	threshold float64,
) ([]article.LabelResult, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	req := labelRequest{Categories: c.categories, MultiLabel: multiLabel}
	for _, a := range articles {
		if text := enrich.LabelText(a); text != "" {
			req.Items = append(req.Items, item{ID: a.ID, Text: text})
		}
	}
	if len(req.Items) == 0 {
		return nil, nil
	}

	var resp labelResponse
	if err := c.post(ctx, "/label", req, &resp); err != nil {
		return nil, fmt.Errorf("label batch: %w", err)
	}

	out := make([]article.LabelResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		cats, scores := enrich.SelectCategories(r.Scores, multiLabel, threshold)
		if len(cats) == 0 {
			continue
		}
		out = append(out, article.LabelResult{ID: r.ID, Categories: cats, Scores: scores})
	}
	return out, nil
}

type analyzeRequest struct {
	Items       []item `json:"items"`
	TopKeywords int    `json:"top_keywords"`
}

type analyzeResponse struct {
	Results []struct {
		ID       string `json:"id"`
		Keywords []struct {
			Keyword string  `json:"keyword"`
			Score   float64 `json:"score"`
		} `json:"keywords"`
		Sentiment []enrich.Score `json:"sentiment"`
	} `json:"results"`
}

// AnalyzeBatch extracts keywords and the dominant sentiment.
func (c *Client) AnalyzeBatch(ctx context.Context, articles []article.Article) ([]article.AnalysisResult, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	req := analyzeRequest{TopKeywords: c.topKeywords}
	for _, a := range articles {
		if text := enrich.AnalysisText(a); text != "" {
			req.Items = append(req.Items, item{ID: a.ID, Text: text})
		}
	}
	if len(req.Items) == 0 {
		return nil, nil
	}

	var resp analyzeResponse
	if err := c.post(ctx, "/analyze", req, &resp); err != nil {
		return nil, fmt.Errorf("analyze batch: %w", err)
	}

	out := make([]article.AnalysisResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		res := article.AnalysisResult{ID: r.ID}
		if len(r.Keywords) > 0 {
			res.KeywordScores = make(map[string]float64, len(r.Keywords))
			for _, kw := range r.Keywords {
				res.Keywords = append(res.Keywords, kw.Keyword)
				res.KeywordScores[kw.Keyword] = kw.Score
			}
		}
		if label, conf, ok := enrich.Argmax(r.Sentiment); ok {
			scores := make(map[string]float64, len(r.Sentiment))
			for _, s := range r.Sentiment {
				scores[strings.ToLower(s.Label)] = s.Score
			}
			res.Sentiment = &article.SentimentResult{Label: label, Scores: scores, Confidence: conf}
		}
		if res.Empty() {
			c.logger.Debug("analysis produced nothing", zap.String("id", r.ID))
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
