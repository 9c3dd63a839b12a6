package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

func TestRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[*model.Run]()
	now := time.Now()

	require.NoError(t, repo.Save(ctx, &model.Run{ID: "run-2", ProjectID: "p1", Status: model.RunStatusQueued, CreatedAt: now.Add(time.Second)}))
	require.NoError(t, repo.Save(ctx, &model.Run{ID: "run-1", ProjectID: "p1", Status: model.RunStatusQueued, CreatedAt: now}))
	require.NoError(t, repo.Save(ctx, &model.Run{ID: "run-3", ProjectID: "p2", Status: model.RunStatusRunning, CreatedAt: now}))

	got, err := repo.FindByID(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProjectID)

	missing, err := repo.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	queued, err := repo.FindBy(ctx, storage.StatusFilter("p1", model.RunStatusQueued))
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "run-1", queued[0].ID, "oldest first")
	assert.Equal(t, "run-2", queued[1].ID)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[*model.Run]()

	run := &model.Run{ID: "run-1", Status: model.RunStatusQueued}
	require.NoError(t, repo.Save(ctx, run))
	run.Status = model.RunStatusRunning

	got, err := repo.FindByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, got.Status)
}

func TestRepository_DeleteByID(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[*model.Scenario]()
	require.NoError(t, repo.Save(ctx, &model.Scenario{ID: "s1"}))

	require.NoError(t, repo.DeleteByID(ctx, "s1"))
	assert.ErrorIs(t, repo.DeleteByID(ctx, "s1"), storage.ErrNotFound)
}

func TestRepository_HeartbeatFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository[*model.Run]()
	now := time.Now()
	old := now.Add(-time.Hour)

	require.NoError(t, repo.Save(ctx, &model.Run{ID: "stale", Status: model.RunStatusRunning, HeartbeatAt: &old}))
	require.NoError(t, repo.Save(ctx, &model.Run{ID: "fresh", Status: model.RunStatusRunning, HeartbeatAt: &now}))

	cutoff := now.Add(-time.Minute)
	f := storage.StatusFilter("", model.RunStatusRunning)
	f.HeartbeatBefore = &cutoff
	got, err := repo.FindBy(ctx, f)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].ID)
}
