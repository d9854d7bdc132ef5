// Package runner serializes pipeline runs requested over the API: requests
// wait in a bounded queue and a single worker executes them one at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/pipeline"
)

const defaultQueueSize = 4

// Pipeline executes one run.
type Pipeline interface {
	Run(ctx context.Context, runID uuid.UUID) (pipeline.RunSummary, error)
}

// Request is one queued run.
type Request struct {
	ID          uuid.UUID
	RequestedAt time.Time
	Trigger     string
}

// Config controls queue depth and per-run limits.
type Config struct {
	QueueSize  int
	RunTimeout time.Duration
}

// Runner owns the queue, the run records and the worker loop.
type Runner struct {
	queue    *Queue
	store    *Store
	pipeline Pipeline
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs a Runner around pipe.
func New(pipe Pipeline, store *Store, cfg Config, logger *zap.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:    NewQueue(cfg.QueueSize),
		store:    store,
		pipeline: pipe,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Store exposes the run records.
func (r *Runner) Store() *Store {
	return r.store
}

// Submit records a queued run and enqueues it.
func (r *Runner) Submit(ctx context.Context, trigger string) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("new run id: %w", err)
	}
	req := Request{ID: id, RequestedAt: r.now().UTC(), Trigger: trigger}
	rec := Record{ID: id, Status: StatusQueued, RequestedAt: req.RequestedAt}
	if err := r.store.Create(ctx, rec); err != nil {
		return Record{}, err
	}
	if err := r.queue.Enqueue(ctx, req); err != nil {
		r.store.remove(id)
		return Record{}, err
	}
	r.logger.Info("run queued", zap.String("run_id", id.String()), zap.String("trigger", trigger))
	return rec, nil
}

// RunNow records and executes one run on the calling goroutine, bypassing the
// queue. It is meant for one-shot CLI invocations.
func (r *Runner) RunNow(ctx context.Context, trigger string) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("new run id: %w", err)
	}
	req := Request{ID: id, RequestedAt: r.now().UTC(), Trigger: trigger}
	if err := r.store.Create(ctx, Record{ID: id, Status: StatusQueued, RequestedAt: req.RequestedAt}); err != nil {
		return Record{}, err
	}
	r.process(ctx, req)
	return r.store.Get(ctx, id)
}

// Run blocks, executing queued runs until ctx finishes or the queue is closed.
func (r *Runner) Run(ctx context.Context) {
	for {
		req, err := r.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			r.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		r.process(ctx, req)
	}
}

// Close stops accepting new runs.
func (r *Runner) Close() {
	r.queue.Close()
}

func (r *Runner) process(ctx context.Context, req Request) {
	logger := r.logger.With(zap.String("run_id", req.ID.String()))
	if err := r.store.Start(ctx, req.ID, r.now()); err != nil {
		logger.Error("mark run started failed", zap.Error(err))
		return
	}

	runCtx := ctx
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}
	summary, runErr := r.safeRun(runCtx, req.ID)
	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
	}
	if err := r.store.Finish(context.WithoutCancel(ctx), req.ID, summary, runErr, r.now()); err != nil {
		logger.Error("mark run finished failed", zap.Error(err))
	}
}

func (r *Runner) safeRun(ctx context.Context, id uuid.UUID) (summary pipeline.RunSummary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panicked: %v", rec)
		}
	}()
	return r.pipeline.Run(ctx, id)
}
