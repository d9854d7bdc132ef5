package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-pipeline/internal/pipeline"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	id := uuid.New()
	now := time.Now()

	require.NoError(t, store.Create(ctx, Record{ID: id, RequestedAt: now}))
	require.Error(t, store.Create(ctx, Record{ID: id}))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, rec.Status)

	require.NoError(t, store.Start(ctx, id, now))
	require.NoError(t, store.RecordStage(ctx, id, pipeline.StageFetch, "running", 0, now))
	require.NoError(t, store.RecordStage(ctx, id, pipeline.StageFetch, pipeline.StatusOK, 12, now.Add(time.Second)))

	rec, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, rec.Status)
	require.Equal(t, StageState{Status: pipeline.StatusOK, Records: 12, UpdatedAt: now.Add(time.Second)}, rec.Stages[pipeline.StageFetch])

	require.NoError(t, store.Finish(ctx, id, pipeline.RunSummary{RunID: id, Fetched: 12}, nil, now.Add(2*time.Second)))
	rec, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, rec.Status)
	require.True(t, rec.Terminal())
	require.Equal(t, 12, rec.Summary.Fetched)
}

func TestStoreUnknownRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	id := uuid.New()

	_, err := store.Get(ctx, id)
	require.ErrorIs(t, err, ErrRunNotFound)
	require.ErrorIs(t, store.Start(ctx, id, time.Now()), ErrRunNotFound)
	require.ErrorIs(t, store.RecordStage(ctx, id, "fetch", "ok", 1, time.Now()), ErrRunNotFound)
	require.ErrorIs(t, store.Finish(ctx, id, pipeline.RunSummary{}, errors.New("x"), time.Now()), ErrRunNotFound)
}

func TestStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	base := time.Now()
	var ids []uuid.UUID
	for i := range 3 {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, store.Create(ctx, Record{ID: id, RequestedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	got := store.List(ctx, 2)
	require.Len(t, got, 2)
	require.Equal(t, ids[2], got[0].ID)
	require.Equal(t, ids[1], got[1].ID)
}
