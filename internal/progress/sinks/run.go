package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/progress"
)

// Stage status while a stage is executing.
const statusRunning = "running"

// StageRecorder stores the live state of each stage of a run.
type StageRecorder interface {
	RecordStage(ctx context.Context, runID uuid.UUID, stage, status string, records int, at time.Time) error
}

// RunSink mirrors stage transitions onto run records so in-flight runs can be
// inspected. Only the latest transition per stage in a batch is written.
type RunSink struct {
	recorder StageRecorder
	logger   *zap.Logger
}

// NewRunSink constructs a RunSink.
func NewRunSink(recorder StageRecorder, logger *zap.Logger) *RunSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSink{recorder: recorder, logger: logger}
}

type stageKey struct {
	run   uuid.UUID
	stage string
}

type stageState struct {
	status  string
	records int
	at      time.Time
}

// Consume collapses the batch per run and stage and forwards the result.
func (s *RunSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	latest := make(map[stageKey]stageState)
	var order []stageKey
	for _, evt := range batch {
		var st stageState
		switch evt.Kind {
		case progress.KindStageStart:
			st = stageState{status: statusRunning}
		case progress.KindStageDone:
			st = stageState{status: evt.Status, records: evt.Records}
		case progress.KindStageError:
			st = stageState{status: statusFailed}
		default:
			continue
		}
		st.at = evt.TS
		key := stageKey{run: evt.RunUUID(), stage: evt.Stage}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = st
	}
	for _, key := range order {
		st := latest[key]
		if err := s.recorder.RecordStage(ctx, key.run, key.stage, st.status, st.records, st.at); err != nil {
			return fmt.Errorf("record stage %s: %w", key.stage, err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *RunSink) Close(context.Context) error {
	return nil
}
