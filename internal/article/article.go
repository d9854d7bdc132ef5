// Package article defines the persisted Article document, the staged enrichment
// fields that drive incremental processing, and the storage contract shared by
// every backend.
package article

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Content bounds applied while cleaning fetched articles.
const (
	MinContentLength = 50
	MaxContentLength = 5000
	TruncationMarker = "..."
)

// TrendingTopic tags articles that came from the headlines endpoint.
const TrendingTopic = "trending"

// UnknownValue fills source and author when the upstream payload omits them.
const UnknownValue = "Unknown"

// Article is one persisted news document addressed by ID.
type Article struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	URLHash     string    `json:"url_hash"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Source      string    `json:"source"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at,omitzero"`
	ImageURL    string    `json:"image_url,omitempty"`
	SearchTopic string    `json:"search_topic"`
	FetchedAt   time.Time `json:"fetched_at"`

	Categories     []string           `json:"categories,omitempty"`
	CategoryScores map[string]float64 `json:"category_scores,omitempty"`

	Embedding    []float32 `json:"embedding,omitempty"`
	EmbeddingDim int       `json:"embedding_dim,omitempty"`

	Keywords      []string           `json:"keywords,omitempty"`
	KeywordScores map[string]float64 `json:"keyword_scores,omitempty"`

	Sentiment           string             `json:"sentiment,omitempty"`
	SentimentScores     map[string]float64 `json:"sentiment_scores,omitempty"`
	SentimentConfidence float64            `json:"sentiment_confidence,omitempty"`
}

// ID derives the document key from a URL. The URL is trimmed before hashing so
// cosmetic whitespace never produces a second document.
func ID(rawURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawURL)))
	return hex.EncodeToString(sum[:])
}

// CombinedText joins the fields whose total length gates acceptance.
func (a Article) CombinedText() string {
	return a.Title + " " + a.Description + " " + a.Content
}

// Has reports whether the named staged field is populated on the record.
func (a Article) Has(field Field) bool {
	switch field {
	case FieldCategories:
		return len(a.Categories) > 0
	case FieldEmbedding:
		return len(a.Embedding) > 0
	case FieldKeywords:
		return len(a.Keywords) > 0
	case FieldSentiment:
		return a.Sentiment != ""
	case FieldImageURL:
		return a.ImageURL != ""
	default:
		return false
	}
}

// Clamp truncates s to max runes and appends the truncation marker when it was cut.
func Clamp(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + TruncationMarker
}

// Count pairs an aggregate bucket with its frequency.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats summarizes the collection for observability.
type Stats struct {
	Total         int     `json:"total"`
	TopCategories []Count `json:"top_categories"`
	TopTopics     []Count `json:"top_topics"`
}

// UpsertCounts reports the per-operation outcome of UpsertBatch.
type UpsertCounts struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Stat limits applied by every backend.
const (
	TopCategoriesLimit = 5
	TopTopicsLimit     = 10
)
