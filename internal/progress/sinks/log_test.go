package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/article-pipeline/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Kind: progress.KindStageDone, Stage: "label", Status: "ok", Records: 3},
		{RunID: runID, TS: time.Now(), Kind: progress.KindStageError, Stage: "embed", Note: "quota"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, int64(3), entries[0].ContextMap()["records"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "quota", entries[1].ContextMap()["note"])
}
