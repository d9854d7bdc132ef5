package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/fetch"
	"github.com/JakeFAU/article-pipeline/internal/keypool"
	"github.com/JakeFAU/article-pipeline/internal/progress"
	pubmemory "github.com/JakeFAU/article-pipeline/internal/publisher/memory"
	"github.com/JakeFAU/article-pipeline/internal/storage/docstore"
	"github.com/JakeFAU/article-pipeline/internal/storage/memory"
)

func TestRunEnrichesEveryStage(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore(nil)
	pub := pubmemory.New()
	events := &eventRecorder{}
	sched := newScheduler(t, Config{Topics: []string{"go"}, EnableImages: true, NotifyTopic: "runs"}, Deps{
		Fetcher:   &fakeFetcher{res: fetch.Result{Articles: articles(3), Topics: 1}},
		Store:     store,
		Labeler:   &fakeLabeler{},
		Embedder:  &fakeEmbedder{},
		Analyzer:  &fakeAnalyzer{},
		Images:    &fakeImages{},
		Progress:  events,
		Publisher: pub,
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Empty(t, summary.FailedStages())
	require.Equal(t, 3, summary.Fetched)
	require.Equal(t, 3, summary.Inserted)
	require.Equal(t, 3, summary.Labeled)
	require.Equal(t, 3, summary.Embedded)
	require.Equal(t, 3, summary.Keywords)
	require.Equal(t, 3, summary.Sentiments)
	require.Equal(t, 3, summary.Images)
	require.NotNil(t, summary.Stats)
	require.Equal(t, 3, summary.Stats.Total)
	require.Len(t, summary.Stages, 6)

	for _, field := range []article.Field{
		article.FieldCategories, article.FieldEmbedding, article.FieldKeywords, article.FieldSentiment, article.FieldImageURL,
	} {
		missing, err := store.FindMissingField(context.Background(), field, 10)
		require.NoError(t, err)
		require.Empty(t, missing, field)
	}

	kinds := events.Kinds()
	require.Equal(t, progress.KindRunStart, kinds[0])
	require.Equal(t, progress.KindRunDone, kinds[len(kinds)-1])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, NotificationKind, msgs[0].Topic)
	got, ok := msgs[0].Payload.(RunSummary)
	require.True(t, ok)
	require.Equal(t, summary.RunID, got.RunID)
}

func TestSecondRunSkipsEnrichedRecords(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore(nil)
	labeler := &fakeLabeler{}
	embedder := &fakeEmbedder{}
	sched := newScheduler(t, Config{Topics: []string{"go"}}, Deps{
		Fetcher:  &fakeFetcher{res: fetch.Result{Articles: articles(4), Topics: 1}},
		Store:    store,
		Labeler:  labeler,
		Embedder: embedder,
	})

	_, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, 1, labeler.Calls())

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, 0, summary.Inserted)
	require.Equal(t, 4, summary.Updated)
	require.Equal(t, 0, summary.Labeled)

	rep, ok := summary.Stage(StageLabel)
	require.True(t, ok)
	require.Equal(t, StatusSkipped, rep.Status)
	require.Equal(t, 1, labeler.Calls())
	require.Equal(t, 1, embedder.Calls())

	// Re-upserting fetched articles never clears enrichment.
	stored, err := store.Get(context.Background(), article.ID(articles(1)[0].URL))
	require.NoError(t, err)
	require.NotEmpty(t, stored.Categories)
	require.NotEmpty(t, stored.Embedding)
}

func TestLabelLeavesOnlyUndeterminedRecordsPending(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore(nil)
	batch := articles(5)
	undetermined := batch[2].ID
	sched := newScheduler(t, Config{Topics: []string{"go"}}, Deps{
		Fetcher: &fakeFetcher{res: fetch.Result{Articles: batch, Topics: 1}},
		Store:   store,
		Labeler: &fakeLabeler{skip: map[string]bool{undetermined: true}},
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Labeled)

	missing, err := store.FindMissingField(context.Background(), article.FieldCategories, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, undetermined, missing[0].ID)
}

func TestLabelFallsBackToBestScore(t *testing.T) {
	t.Parallel()

	res := ensureCategory(article.LabelResult{
		ID:     "a",
		Scores: map[string]float64{"sports": 0.2, "tech": 0.3},
	})
	require.Equal(t, []string{"tech"}, res.Categories)
	require.False(t, res.Empty())

	untouched := ensureCategory(article.LabelResult{ID: "b"})
	require.True(t, untouched.Empty())
}

func TestEnrichmentChunks(t *testing.T) {
	t.Parallel()

	labeler := &fakeLabeler{}
	sched := newScheduler(t, Config{Topics: []string{"go"}, ChunkSize: 2}, Deps{
		Fetcher: &fakeFetcher{res: fetch.Result{Articles: articles(5), Topics: 1}},
		Store:   memory.NewArticleStore(nil),
		Labeler: labeler,
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 1}, labeler.Sizes())
	require.Equal(t, 5, summary.Labeled)
}

func TestBatchCeilingLimitsCandidates(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore(nil)
	sched := newScheduler(t, Config{Topics: []string{"go"}, BatchCeiling: 3}, Deps{
		Fetcher: &fakeFetcher{res: fetch.Result{Articles: articles(5), Topics: 1}},
		Store:   store,
		Labeler: &fakeLabeler{},
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	rep, _ := summary.Stage(StageLabel)
	require.Equal(t, 3, rep.Candidates)

	missing, err := store.FindMissingField(context.Background(), article.FieldCategories, 10)
	require.NoError(t, err)
	require.Len(t, missing, 2)
}

func TestStageFailureDoesNotStopLaterStages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		labeler *fakeLabeler
		wantErr string
	}{
		{name: "error", labeler: &fakeLabeler{failOnCall: 2}, wantErr: "labeler unavailable"},
		{name: "panic", labeler: &fakeLabeler{panicOnCall: 2}, wantErr: ErrStagePanic.Error()},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := memory.NewArticleStore(nil)
			sched := newScheduler(t, Config{Topics: []string{"go"}, ChunkSize: 2}, Deps{
				Fetcher:  &fakeFetcher{res: fetch.Result{Articles: articles(4), Topics: 1}},
				Store:    store,
				Labeler:  tt.labeler,
				Embedder: &fakeEmbedder{},
			})

			summary, err := sched.Run(context.Background(), uuid.New())
			require.NoError(t, err)
			require.Equal(t, []string{StageLabel}, summary.FailedStages())

			rep, _ := summary.Stage(StageLabel)
			require.Contains(t, rep.Error, tt.wantErr)
			require.Equal(t, 2, rep.Processed)
			require.Equal(t, 2, summary.Labeled)

			embed, _ := summary.Stage(StageEmbed)
			require.Equal(t, StatusOK, embed.Status)
			require.Equal(t, 4, summary.Embedded)

			missing, err := store.FindMissingField(context.Background(), article.FieldCategories, 10)
			require.NoError(t, err)
			require.Len(t, missing, 2)
		})
	}
}

func TestWriterFailureFailsStage(t *testing.T) {
	t.Parallel()

	store := &failingUpdates{Store: memory.NewArticleStore(nil)}
	sched := newScheduler(t, Config{Topics: []string{"go"}, ChunkSize: 1}, Deps{
		Fetcher: &fakeFetcher{res: fetch.Result{Articles: articles(3), Topics: 1}},
		Store:   store,
		Labeler: &fakeLabeler{},
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	rep, _ := summary.Stage(StageLabel)
	require.Equal(t, StatusFailed, rep.Status)
	require.Contains(t, rep.Error, "disk full")
	require.Zero(t, summary.Labeled)
}

func TestDisabledStages(t *testing.T) {
	t.Parallel()

	events := &eventRecorder{}
	sched := newScheduler(t, Config{Topics: []string{"go"}, SkipEmbed: true}, Deps{
		Fetcher:  &fakeFetcher{res: fetch.Result{Articles: articles(1), Topics: 1}},
		Store:    memory.NewArticleStore(nil),
		Labeler:  &fakeLabeler{},
		Embedder: &fakeEmbedder{},
		Progress: events,
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)

	want := map[string]string{
		StageFetch:   StatusOK,
		StageStore:   StatusOK,
		StageLabel:   StatusOK,
		StageEmbed:   StatusDisabled,
		StageAnalyze: StatusDisabled,
		StageImages:  StatusDisabled,
	}
	for name, status := range want {
		rep, ok := summary.Stage(name)
		require.True(t, ok, name)
		require.Equal(t, status, rep.Status, name)
	}
	for _, evt := range events.Events() {
		require.NoError(t, evt.Validate())
	}
}

func TestStoreStageSkippedWithoutFetch(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore(nil)
	_, err := store.UpsertBatch(context.Background(), articles(2))
	require.NoError(t, err)

	sched := newScheduler(t, Config{SkipFetch: true}, Deps{
		Store:   store,
		Labeler: &fakeLabeler{},
	})
	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)

	rep, _ := summary.Stage(StageStore)
	require.Equal(t, StatusSkipped, rep.Status)
	require.Equal(t, 2, summary.Labeled)
}

func TestNoKeysAbortsRun(t *testing.T) {
	t.Parallel()

	events := &eventRecorder{}
	labeler := &fakeLabeler{}
	sched := newScheduler(t, Config{Topics: []string{"go"}}, Deps{
		Fetcher:  &fakeFetcher{err: fmt.Errorf("fetch topic go: %w", keypool.ErrNoKeys)},
		Store:    memory.NewArticleStore(nil),
		Labeler:  labeler,
		Progress: events,
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.ErrorIs(t, err, keypool.ErrNoKeys)
	require.Len(t, summary.Stages, 1)
	require.Zero(t, labeler.Calls())

	kinds := events.Kinds()
	require.Equal(t, progress.KindRunError, kinds[len(kinds)-1])
}

func TestExhaustedKeysStillStoresPartialFetch(t *testing.T) {
	t.Parallel()

	store := memory.NewArticleStore(nil)
	sched := newScheduler(t, Config{Topics: []string{"a", "b"}}, Deps{
		Fetcher: &fakeFetcher{
			res: fetch.Result{Articles: articles(2), Topics: 2, FailedTopics: []string{"b"}},
			err: keypool.ErrExhaustedKeys,
		},
		Store: store,
	})

	summary, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, []string{StageFetch}, summary.FailedStages())
	require.Equal(t, 2, summary.Inserted)
}

func TestCanceledContextAbortsRun(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sched := newScheduler(t, Config{Topics: []string{"go"}, NotifyTopic: "runs"}, Deps{
		Fetcher:   &fakeFetcher{},
		Store:     memory.NewArticleStore(nil),
		Publisher: pub,
	})
	summary, err := sched.Run(ctx, uuid.New())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, summary.Stages)
	require.Len(t, pub.Messages(), 1)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	_, err = New(Config{LabelThreshold: 1.5}, Deps{Store: memory.NewArticleStore(nil)})
	require.Error(t, err)

	s, err := New(Config{}, Deps{Store: memory.NewArticleStore(nil)})
	require.NoError(t, err)
	require.Equal(t, defaultBatchCeiling, s.cfg.BatchCeiling)
	require.Equal(t, defaultChunkSize, s.cfg.ChunkSize)
	require.Zero(t, s.cfg.LabelThreshold)
}

func TestZeroLabelThresholdReachesLabeler(t *testing.T) {
	t.Parallel()

	labeler := &fakeLabeler{}
	sched := newScheduler(t, Config{Topics: []string{"go"}, LabelThreshold: 0}, Deps{
		Fetcher: &fakeFetcher{res: fetch.Result{Articles: articles(2), Topics: 1}},
		Store:   memory.NewArticleStore(nil),
		Labeler: labeler,
	})

	_, err := sched.Run(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, []float64{0}, labeler.Thresholds())
}

func newScheduler(t *testing.T, cfg Config, deps Deps) *Scheduler {
	t.Helper()
	s, err := New(cfg, deps)
	require.NoError(t, err)
	return s
}

func articles(n int) []article.Article {
	out := make([]article.Article, 0, n)
	for i := range n {
		url := fmt.Sprintf("https://example.com/story-%d", i)
		out = append(out, article.Article{
			ID:          article.ID(url),
			URL:         url,
			Title:       fmt.Sprintf("Story %d", i),
			Description: "A description long enough to pass the content gate.",
			Content:     "Body text for the story.",
			Source:      "Example",
			Author:      "Reporter",
			SearchTopic: "go",
			FetchedAt:   time.Unix(1700000000, 0).UTC(),
		})
	}
	return out
}

type fakeFetcher struct {
	res fetch.Result
	err error
}

func (f *fakeFetcher) FetchAll(context.Context, []string) (fetch.Result, error) {
	return f.res, f.err
}

type fakeLabeler struct {
	mu          sync.Mutex
	sizes       []int
	thresholds  []float64
	skip        map[string]bool
	failOnCall  int
	panicOnCall int
}

func (f *fakeLabeler) LabelBatch(_ context.Context, batch []article.Article, _ bool, threshold float64) ([]article.LabelResult, error) {
	f.mu.Lock()
	f.sizes = append(f.sizes, len(batch))
	f.thresholds = append(f.thresholds, threshold)
	call := len(f.sizes)
	f.mu.Unlock()

	if call == f.failOnCall {
		return nil, errors.New("labeler unavailable")
	}
	if call == f.panicOnCall {
		panic("model crashed")
	}
	out := make([]article.LabelResult, 0, len(batch))
	for _, a := range batch {
		if f.skip[a.ID] {
			out = append(out, article.LabelResult{ID: a.ID})
			continue
		}
		out = append(out, article.LabelResult{
			ID:         a.ID,
			Categories: []string{"technology"},
			Scores:     map[string]float64{"technology": 0.9},
		})
	}
	return out, nil
}

func (f *fakeLabeler) Thresholds() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.thresholds...)
}

func (f *fakeLabeler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sizes)
}

func (f *fakeLabeler) Sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.sizes...)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, batch []article.Article) ([]article.EmbeddingResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([]article.EmbeddingResult, 0, len(batch))
	for _, a := range batch {
		out = append(out, article.EmbeddingResult{ID: a.ID, Vector: []float32{0.1, 0.2, 0.3}})
	}
	return out, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) AnalyzeBatch(_ context.Context, batch []article.Article) ([]article.AnalysisResult, error) {
	out := make([]article.AnalysisResult, 0, len(batch))
	for _, a := range batch {
		out = append(out, article.AnalysisResult{
			ID:            a.ID,
			Keywords:      []string{"go"},
			KeywordScores: map[string]float64{"go": 0.8},
			Sentiment: &article.SentimentResult{
				Label:      "positive",
				Scores:     map[string]float64{"positive": 0.7, "negative": 0.3},
				Confidence: 0.7,
			},
		})
	}
	return out, nil
}

type fakeImages struct{}

func (fakeImages) FindImages(_ context.Context, batch []article.Article) ([]article.ImageResult, error) {
	out := make([]article.ImageResult, 0, len(batch))
	for _, a := range batch {
		out = append(out, article.ImageResult{ID: a.ID, ImageURL: a.URL + "/lead.jpg"})
	}
	return out, nil
}

type failingUpdates struct {
	*docstore.Store
}

func (f *failingUpdates) UpdateBatch(context.Context, []article.Patch) (int, error) {
	return 0, errors.New("disk full")
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *eventRecorder) Kinds() []progress.Kind {
	var kinds []progress.Kind
	for _, evt := range r.Events() {
		kinds = append(kinds, evt.Kind)
	}
	return kinds
}
