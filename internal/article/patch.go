package article

// Patch is a typed, field-level update produced by one enrichment stage.
// Fields returns only the keys the stage determined; Empty reports that the
// stage made no determination and nothing should be written.
type Patch interface {
	ArticleID() string
	Fields() map[string]any
	Empty() bool
}

// LabelResult carries the categories assigned by the labeler.
type LabelResult struct {
	ID         string
	Categories []string
	Scores     map[string]float64
}

// ArticleID implements Patch.
func (r LabelResult) ArticleID() string { return r.ID }

// Empty implements Patch.
func (r LabelResult) Empty() bool { return len(r.Categories) == 0 }

// Fields implements Patch.
func (r LabelResult) Fields() map[string]any {
	if r.Empty() {
		return nil
	}
	scores := r.Scores
	if scores == nil {
		scores = map[string]float64{}
	}
	return map[string]any{
		"categories":      r.Categories,
		"category_scores": scores,
	}
}

// EmbeddingResult carries one embedding vector.
type EmbeddingResult struct {
	ID     string
	Vector []float32
}

// ArticleID implements Patch.
func (r EmbeddingResult) ArticleID() string { return r.ID }

// Empty implements Patch.
func (r EmbeddingResult) Empty() bool { return len(r.Vector) == 0 }

// Fields implements Patch.
func (r EmbeddingResult) Fields() map[string]any {
	if r.Empty() {
		return nil
	}
	return map[string]any{
		"embedding":     r.Vector,
		"embedding_dim": len(r.Vector),
	}
}

// SentimentResult is the sentiment half of an analysis.
type SentimentResult struct {
	Label      string
	Scores     map[string]float64
	Confidence float64
}

// AnalysisResult carries keywords and/or sentiment. Either half may be absent.
type AnalysisResult struct {
	ID            string
	Keywords      []string
	KeywordScores map[string]float64
	Sentiment     *SentimentResult
}

// ArticleID implements Patch.
func (r AnalysisResult) ArticleID() string { return r.ID }

// Empty implements Patch.
func (r AnalysisResult) Empty() bool {
	return len(r.Keywords) == 0 && (r.Sentiment == nil || r.Sentiment.Label == "")
}

// Fields implements Patch.
func (r AnalysisResult) Fields() map[string]any {
	out := map[string]any{}
	if len(r.Keywords) > 0 {
		scores := r.KeywordScores
		if scores == nil {
			scores = map[string]float64{}
		}
		out["keywords"] = r.Keywords
		out["keyword_scores"] = scores
	}
	if r.Sentiment != nil && r.Sentiment.Label != "" {
		sentimentScores := r.Sentiment.Scores
		if sentimentScores == nil {
			sentimentScores = map[string]float64{}
		}
		out["sentiment"] = r.Sentiment.Label
		out["sentiment_scores"] = sentimentScores
		out["sentiment_confidence"] = r.Sentiment.Confidence
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ImageResult carries a lead image discovered on the article page.
type ImageResult struct {
	ID       string
	ImageURL string
}

// ArticleID implements Patch.
func (r ImageResult) ArticleID() string { return r.ID }

// Empty implements Patch.
func (r ImageResult) Empty() bool { return r.ImageURL == "" }

// Fields implements Patch.
func (r ImageResult) Fields() map[string]any {
	if r.Empty() {
		return nil
	}
	return map[string]any{"image_url": r.ImageURL}
}

// Apply merges a patch into an in-memory Article. It mirrors what stores do
// with the same patch so callers can reason about the persisted result.
func Apply(a *Article, p Patch) {
	if a == nil || p == nil || p.Empty() {
		return
	}
	switch r := p.(type) {
	case LabelResult:
		a.Categories = append([]string(nil), r.Categories...)
		a.CategoryScores = r.Scores
	case EmbeddingResult:
		a.Embedding = append([]float32(nil), r.Vector...)
		a.EmbeddingDim = len(r.Vector)
	case AnalysisResult:
		if len(r.Keywords) > 0 {
			a.Keywords = append([]string(nil), r.Keywords...)
			a.KeywordScores = r.KeywordScores
		}
		if r.Sentiment != nil && r.Sentiment.Label != "" {
			a.Sentiment = r.Sentiment.Label
			a.SentimentScores = r.Sentiment.Scores
			a.SentimentConfidence = r.Sentiment.Confidence
		}
	case ImageResult:
		a.ImageURL = r.ImageURL
	}
}
