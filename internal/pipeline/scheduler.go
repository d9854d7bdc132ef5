// Package pipeline drives one ingestion run through its stages: fetch, store,
// then each enrichment stage over only the records still missing its field.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/enrich"
	"github.com/JakeFAU/article-pipeline/internal/fetch"
	"github.com/JakeFAU/article-pipeline/internal/keypool"
	"github.com/JakeFAU/article-pipeline/internal/metrics"
	"github.com/JakeFAU/article-pipeline/internal/progress"
	"github.com/JakeFAU/article-pipeline/internal/publisher"
)

const (
	defaultBatchCeiling = 5000
	defaultChunkSize    = 32
	// NotificationKind tags the message published after every run.
	NotificationKind = "run.completed"
)

// ErrStagePanic wraps a panic recovered at a stage boundary.
var ErrStagePanic = errors.New("stage panicked")

// Fetcher retrieves one run's worth of articles.
type Fetcher interface {
	FetchAll(ctx context.Context, topics []string) (fetch.Result, error)
}

// Config controls which stages run and how enrichment is batched.
type Config struct {
	Topics         []string
	BatchCeiling   int
	ChunkSize      int
	LabelThreshold float64
	MultiLabel     bool
	SkipFetch      bool
	SkipStore      bool
	SkipLabel      bool
	SkipEmbed      bool
	SkipAnalyze    bool
	EnableImages   bool
	NotifyTopic    string
}

// Deps are the collaborators a Scheduler drives. Store is required; a nil
// collaborator disables its stage.
type Deps struct {
	Fetcher   Fetcher
	Store     article.Store
	Labeler   enrich.Labeler
	Embedder  enrich.Embedder
	Analyzer  enrich.Analyzer
	Images    enrich.ImageFinder
	Progress  progress.Emitter
	Publisher publisher.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Scheduler runs stages strictly in sequence. It holds no per-run state, so
// one Scheduler may serve many runs.
type Scheduler struct {
	cfg  Config
	deps Deps
}

// New validates deps and fills defaults.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.BatchCeiling <= 0 {
		cfg.BatchCeiling = defaultBatchCeiling
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.LabelThreshold < 0 || cfg.LabelThreshold > 1 {
		return nil, fmt.Errorf("pipeline: label threshold %v outside [0,1]", cfg.LabelThreshold)
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Scheduler{cfg: cfg, deps: deps}, nil
}

// run holds the state of a single Run call.
type run struct {
	*Scheduler
	id      [16]byte
	logger  *zap.Logger
	summary RunSummary
	fetched []article.Article
	// stageErr is the error of the most recent stage.
	stageErr error
}

type stage struct {
	name    string
	enabled bool
	exec    func(ctx context.Context, rep *StageReport) error
}

// Run executes every stage once. A stage error or panic marks that stage
// failed and the next stage still runs. The returned error is non-nil only
// when the run could not proceed at all: no usable credentials, or ctx was
// canceled.
func (s *Scheduler) Run(ctx context.Context, runID uuid.UUID) (RunSummary, error) {
	r := &run{
		Scheduler: s,
		id:        progress.UUIDToBytes(runID),
		logger:    s.deps.Logger.With(zap.String("run_id", runID.String())),
		summary:   RunSummary{RunID: runID, Started: s.deps.Now().UTC()},
	}
	r.emit(progress.Event{Kind: progress.KindRunStart})
	r.logger.Info("run started")

	stages := []stage{
		{name: StageFetch, enabled: !s.cfg.SkipFetch && s.deps.Fetcher != nil, exec: r.fetch},
		{name: StageStore, enabled: !s.cfg.SkipStore, exec: r.store},
		{name: StageLabel, enabled: !s.cfg.SkipLabel && s.deps.Labeler != nil, exec: r.label},
		{name: StageEmbed, enabled: !s.cfg.SkipEmbed && s.deps.Embedder != nil, exec: r.embed},
		{name: StageAnalyze, enabled: !s.cfg.SkipAnalyze && s.deps.Analyzer != nil, exec: r.analyze},
		{name: StageImages, enabled: s.cfg.EnableImages && s.deps.Images != nil, exec: r.images},
	}

	var fatal error
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			fatal = fmt.Errorf("run canceled before %s: %w", st.name, err)
			break
		}
		rep := r.runStage(ctx, st)
		r.summary.Stages = append(r.summary.Stages, rep)
		if rep.Status == StatusFailed && st.name == StageFetch && errors.Is(r.stageErr, keypool.ErrNoKeys) {
			fatal = r.stageErr
			break
		}
	}

	if fatal == nil {
		if stats, err := s.deps.Store.Stats(ctx); err != nil {
			r.logger.Warn("collect stats failed", zap.Error(err))
		} else {
			r.summary.Stats = &stats
		}
	}
	r.summary.Finished = s.deps.Now().UTC()
	r.finish(ctx, fatal)
	return r.summary, fatal
}

func (r *run) finish(ctx context.Context, fatal error) {
	done := progress.Event{Kind: progress.KindRunDone, Records: r.summary.Fetched, Dur: r.summary.Duration()}
	if fatal != nil {
		done.Kind = progress.KindRunError
		done.Note = fatal.Error()
		r.logger.Error("run aborted", zap.Error(fatal))
	} else {
		r.logger.Info("run finished",
			zap.Duration("duration", r.summary.Duration()),
			zap.Int("fetched", r.summary.Fetched),
			zap.Int("inserted", r.summary.Inserted),
			zap.Int("updated", r.summary.Updated),
			zap.Int("labeled", r.summary.Labeled),
			zap.Int("embedded", r.summary.Embedded),
			zap.Int("keywords", r.summary.Keywords),
			zap.Int("sentiments", r.summary.Sentiments),
			zap.Strings("failed_stages", r.summary.FailedStages()),
		)
	}
	r.emit(done)

	if r.cfg.NotifyTopic == "" {
		return
	}
	// The notification is sent even when ctx was canceled after the last stage.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := r.deps.Publisher.Publish(pubCtx, NotificationKind, r.summary); err != nil {
		r.logger.Warn("publish run notification failed", zap.Error(err))
	}
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.id
	evt.TS = r.deps.Now().UTC()
	r.deps.Progress.Emit(evt)
}

// runStage executes one stage behind a recover so that nothing a stage does
// can abort the run.
func (r *run) runStage(ctx context.Context, st stage) (rep StageReport) {
	rep = StageReport{Name: st.name}
	r.stageErr = nil
	if !st.enabled {
		rep.Status = StatusDisabled
		r.emit(progress.Event{Kind: progress.KindStageDone, Stage: st.name, Status: rep.Status})
		metrics.ObserveStage(st.name, rep.Status, 0)
		return rep
	}

	r.emit(progress.Event{Kind: progress.KindStageStart, Stage: st.name})
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("%w: %s: %v", ErrStagePanic, st.name, rec)
			}
		}()
		return st.exec(ctx, &rep)
	}()
	rep.Duration = time.Since(start)

	if err != nil {
		r.stageErr = err
		rep.Status = StatusFailed
		rep.Error = err.Error()
		r.logger.Error("stage failed", zap.String("stage", st.name), zap.Duration("duration", rep.Duration), zap.Error(err))
		r.emit(progress.Event{Kind: progress.KindStageError, Stage: st.name, Dur: rep.Duration, Note: rep.Error})
	} else {
		if rep.Status == "" {
			rep.Status = StatusOK
		}
		r.logger.Info("stage finished",
			zap.String("stage", st.name),
			zap.String("status", rep.Status),
			zap.Int("candidates", rep.Candidates),
			zap.Int("processed", rep.Processed),
			zap.Duration("duration", rep.Duration),
		)
		r.emit(progress.Event{
			Kind:       progress.KindStageDone,
			Stage:      st.name,
			Status:     rep.Status,
			Candidates: rep.Candidates,
			Records:    rep.Processed,
			Dur:        rep.Duration,
		})
	}
	metrics.ObserveStage(st.name, rep.Status, rep.Duration)
	metrics.AddStageRecords(st.name, rep.Processed)
	return rep
}
