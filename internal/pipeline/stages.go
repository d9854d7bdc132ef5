package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/enrich"
)

func (r *run) fetch(ctx context.Context, rep *StageReport) error {
	res, err := r.deps.Fetcher.FetchAll(ctx, r.cfg.Topics)
	r.fetched = res.Articles
	r.summary.Fetched = len(res.Articles)
	rep.Candidates = res.Topics
	rep.Processed = len(res.Articles)
	if err != nil {
		// Whatever arrived before the failure is still handed to the store stage.
		return fmt.Errorf("fetch: %w", err)
	}
	if len(res.FailedTopics) > 0 {
		r.logger.Warn("some topics failed", zap.Strings("topics", res.FailedTopics))
	}
	return nil
}

func (r *run) store(ctx context.Context, rep *StageReport) error {
	if len(r.fetched) == 0 {
		rep.Status = StatusSkipped
		return nil
	}
	rep.Candidates = len(r.fetched)
	counts, err := r.deps.Store.UpsertBatch(ctx, r.fetched)
	r.summary.Inserted += counts.Inserted
	r.summary.Updated += counts.Updated
	r.summary.StoreFailed += counts.Failed
	rep.Processed = counts.Inserted + counts.Updated
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	if counts.Failed > 0 {
		r.logger.Warn("some articles failed to store", zap.Int("failed", counts.Failed))
	}
	return nil
}

func (r *run) label(ctx context.Context, rep *StageReport) error {
	written, err := r.enrich(ctx, rep, article.FieldCategories, func(ctx context.Context, batch []article.Article) ([]article.Patch, error) {
		results, err := r.deps.Labeler.LabelBatch(ctx, batch, r.cfg.MultiLabel, r.cfg.LabelThreshold)
		if err != nil {
			return nil, err
		}
		patches := make([]article.Patch, 0, len(results))
		for _, res := range results {
			patches = append(patches, ensureCategory(res))
		}
		return patches, nil
	})
	r.summary.Labeled += len(written)
	return err
}

// ensureCategory keeps the best scored label when a labeler returned scores
// but no category, so a scored article never looks unlabeled.
func ensureCategory(res article.LabelResult) article.LabelResult {
	if len(res.Categories) > 0 || len(res.Scores) == 0 {
		return res
	}
	scores := make([]enrich.Score, 0, len(res.Scores))
	for label, score := range res.Scores {
		scores = append(scores, enrich.Score{Label: label, Score: score})
	}
	res.Categories, res.Scores = enrich.SelectCategories(scores, false, 0)
	return res
}

func (r *run) embed(ctx context.Context, rep *StageReport) error {
	written, err := r.enrich(ctx, rep, article.FieldEmbedding, func(ctx context.Context, batch []article.Article) ([]article.Patch, error) {
		results, err := r.deps.Embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		return toPatches(results), nil
	})
	r.summary.Embedded += len(written)
	return err
}

func (r *run) analyze(ctx context.Context, rep *StageReport) error {
	written, err := r.enrich(ctx, rep, article.FieldKeywords, func(ctx context.Context, batch []article.Article) ([]article.Patch, error) {
		results, err := r.deps.Analyzer.AnalyzeBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		return toPatches(results), nil
	})
	for _, p := range written {
		res, ok := p.(article.AnalysisResult)
		if !ok {
			continue
		}
		if len(res.Keywords) > 0 {
			r.summary.Keywords++
		}
		if res.Sentiment != nil && res.Sentiment.Label != "" {
			r.summary.Sentiments++
		}
	}
	return err
}

func (r *run) images(ctx context.Context, rep *StageReport) error {
	written, err := r.enrich(ctx, rep, article.FieldImageURL, func(ctx context.Context, batch []article.Article) ([]article.Patch, error) {
		results, err := r.deps.Images.FindImages(ctx, batch)
		if err != nil {
			return nil, err
		}
		return toPatches(results), nil
	})
	r.summary.Images += len(written)
	return err
}

func toPatches[T article.Patch](results []T) []article.Patch {
	out := make([]article.Patch, len(results))
	for i, res := range results {
		out[i] = res
	}
	return out
}

type writeResult struct {
	matched int
	written []article.Patch
	err     error
}

// enrich selects up to the batch ceiling of records missing marker, passes
// them to call in chunks, and streams each chunk's determinations to a single
// writer goroutine. Patches the writer persisted are returned even when the
// stage fails part way through.
func (r *run) enrich(
	ctx context.Context,
	rep *StageReport,
	marker article.Field,
	call func(context.Context, []article.Article) ([]article.Patch, error),
) ([]article.Patch, error) {
	candidates, err := r.deps.Store.FindMissingField(ctx, marker, r.cfg.BatchCeiling)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	rep.Candidates = len(candidates)
	if len(candidates) == 0 {
		rep.Status = StatusSkipped
		return nil, nil
	}

	batches := make(chan []article.Patch)
	done := make(chan writeResult, 1)
	go r.write(ctx, batches, done)

	callErr := func() (err error) {
		defer close(batches)
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%w: %v", ErrStagePanic, rec)
			}
		}()
		for start := 0; start < len(candidates); start += r.cfg.ChunkSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+r.cfg.ChunkSize, len(candidates))
			patches, err := call(ctx, candidates[start:end])
			if err != nil {
				return fmt.Errorf("records %d-%d: %w", start, end-1, err)
			}
			determined := patches[:0:0]
			for _, p := range patches {
				if p != nil && !p.Empty() {
					determined = append(determined, p)
				}
			}
			if len(determined) > 0 {
				batches <- determined
			}
		}
		return nil
	}()

	res := <-done
	rep.Processed = res.matched
	return res.written, errors.Join(callErr, res.err)
}

// write is the only goroutine that updates the store during a stage. After a
// failure it keeps draining so the producer never blocks.
func (r *run) write(ctx context.Context, batches <-chan []article.Patch, done chan<- writeResult) {
	var res writeResult
	defer func() {
		if rec := recover(); rec != nil {
			res.err = fmt.Errorf("%w: writer: %v", ErrStagePanic, rec)
			for range batches {
			}
		}
		done <- res
	}()
	for batch := range batches {
		if res.err != nil {
			continue
		}
		n, err := r.deps.Store.UpdateBatch(ctx, batch)
		res.matched += n
		if err != nil {
			res.err = fmt.Errorf("update batch: %w", err)
			continue
		}
		res.written = append(res.written, batch...)
	}
}
