package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/article-pipeline/internal/pipeline"
)

// Status is the lifecycle state of a run record.
type Status string

// Run lifecycle states.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// StageState is the live view of one stage while a run executes.
type StageState struct {
	Status    string    `json:"status"`
	Records   int       `json:"records"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record tracks one requested run.
type Record struct {
	ID          uuid.UUID             `json:"run_id"`
	Status      Status                `json:"status"`
	RequestedAt time.Time             `json:"requested_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
	Error       string                `json:"error,omitempty"`
	Stages      map[string]StageState `json:"stages,omitempty"`
	Summary     *pipeline.RunSummary  `json:"summary,omitempty"`
}

// Terminal reports whether the run has finished.
func (r Record) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Store keeps run records in memory.
type Store struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]Record
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{runs: make(map[uuid.UUID]Record)}
}

// Create stores a new queued record.
func (s *Store) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[rec.ID]; exists {
		return fmt.Errorf("run %s already exists", rec.ID)
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	s.runs[rec.ID] = rec
	return nil
}

// Start marks the run as running.
func (s *Store) Start(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("start %s: %w", id, ErrRunNotFound)
	}
	rec.Status = StatusRunning
	rec.StartedAt = pointerTime(at)
	s.runs[id] = rec
	return nil
}

// Finish stores the summary and the terminal status derived from runErr.
func (s *Store) Finish(_ context.Context, id uuid.UUID, summary pipeline.RunSummary, runErr error, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("finish %s: %w", id, ErrRunNotFound)
	}
	rec.Status = StatusSucceeded
	rec.Error = ""
	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
	}
	rec.FinishedAt = pointerTime(at)
	rec.Summary = &summary
	s.runs[id] = rec
	return nil
}

// RecordStage updates the live state of one stage.
func (s *Store) RecordStage(_ context.Context, id uuid.UUID, stage, status string, records int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("record stage %s: %w", id, ErrRunNotFound)
	}
	stages := make(map[string]StageState, len(rec.Stages)+1)
	for k, v := range rec.Stages {
		stages[k] = v
	}
	stages[stage] = StageState{Status: status, Records: records, UpdatedAt: at}
	rec.Stages = stages
	s.runs[id] = rec
	return nil
}

func (s *Store) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}

// Get returns a run record by ID.
func (s *Store) Get(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", id, ErrRunNotFound)
	}
	return rec, nil
}

// List returns up to limit records, newest request first.
func (s *Store) List(_ context.Context, limit int) []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}
