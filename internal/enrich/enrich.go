// Package enrich defines the batch collaborators that add derived fields to
// stored articles, plus the selection rules shared by their implementations.
package enrich

import (
	"context"
	"sort"
	"strings"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

// Labeler assigns categories to a batch of articles.
type Labeler interface {
	LabelBatch(ctx context.Context, articles []article.Article, multiLabel bool, threshold float64) ([]article.LabelResult, error)
}

// Embedder produces one vector per article.
type Embedder interface {
	EmbedBatch(ctx context.Context, articles []article.Article) ([]article.EmbeddingResult, error)
}

// Analyzer extracts keywords and sentiment.
type Analyzer interface {
	AnalyzeBatch(ctx context.Context, articles []article.Article) ([]article.AnalysisResult, error)
}

// ImageFinder discovers a lead image for each article page.
type ImageFinder interface {
	FindImages(ctx context.Context, articles []article.Article) ([]article.ImageResult, error)
}

// Score is one candidate label and its confidence.
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// SelectCategories applies the labeling rule to raw classifier scores. In
// multi-label mode every label at or above threshold is kept; when none
// qualifies the single best label is kept so a scored article is never left
// without a category. Single-label mode keeps only the best label.
func SelectCategories(scores []Score, multiLabel bool, threshold float64) ([]string, map[string]float64) {
	if len(scores) == 0 {
		return nil, nil
	}
	ranked := append([]Score(nil), scores...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Label < ranked[j].Label
	})

	var (
		categories []string
		kept       = map[string]float64{}
	)
	if multiLabel {
		for _, s := range ranked {
			if s.Score >= threshold {
				categories = append(categories, s.Label)
				kept[s.Label] = s.Score
			}
		}
	}
	if len(categories) == 0 {
		best := ranked[0]
		categories = []string{best.Label}
		kept = map[string]float64{best.Label: best.Score}
	}
	return categories, kept
}

// Argmax returns the highest scoring label, lowercased, and its score.
func Argmax(scores []Score) (string, float64, bool) {
	if len(scores) == 0 {
		return "", 0, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return strings.ToLower(best.Label), best.Score, true
}

// Text limits for each collaborator's input.
const (
	labelTextLimit      = 512
	embedContentPreview = 1000
)

// LabelText is the classifier input: title and description only.
func LabelText(a article.Article) string {
	return clip(strings.TrimSpace(a.Title+". "+a.Description), labelTextLimit)
}

// EmbeddingText is title, description and the first part of the content.
func EmbeddingText(a article.Article) string {
	return strings.TrimSpace(a.Title + ". " + a.Description + ". " + clip(a.Content, embedContentPreview))
}

// AnalysisText is the full combined text.
func AnalysisText(a article.Article) string {
	return strings.TrimSpace(a.Title + ". " + a.Description + ". " + a.Content)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
