package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codevec/internal/storage"
	"github.com/dshills/codevec/pkg/types"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestProjectID(t *testing.T) {
	id := ProjectID("/home/user/project")
	assert.Len(t, id, 16)
	assert.Equal(t, id, ProjectID("/home/user/project"))
	assert.NotEqual(t, id, ProjectID("/home/user/other"))
}

func TestCreateAndGetProject(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	dir := t.TempDir()

	p, err := reg.CreateProject(ctx, dir, "")
	require.NoError(t, err)
	assert.Equal(t, ProjectID(dir), p.ID)
	assert.Equal(t, filepath.Base(dir), p.Name)
	assert.Equal(t, types.StatusCreated, p.Status)
	assert.Equal(t, filepath.Join(reg.dataDir, "projects", p.ID+".db"), p.DatabasePath)
	require.NoError(t, p.Validate())

	got, err := reg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Path, got.Path)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.LastIndexedAt)

	byPath, err := reg.GetProjectByPath(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byPath.ID)

	again, err := reg.CreateProject(ctx, dir, "other")
	assert.ErrorIs(t, err, ErrProjectExists)
	assert.Equal(t, p.ID, again.ID)

	_, err = reg.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestInsertProject_Duplicate(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	path := t.TempDir()

	first, err := reg.CreateProject(ctx, path, "first")
	require.NoError(t, err)

	// the losing side of two concurrent registrations
	dup := *first
	dup.Name = "second"
	got, err := reg.insertProject(ctx, &dup)
	assert.ErrorIs(t, err, ErrProjectExists)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "first", got.Name)
}

func TestCreateProject_Concurrent(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	path := t.TempDir()

	var wg sync.WaitGroup
	results := make([]*types.Project, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reg.CreateProject(ctx, path, "")
			if err != nil {
				assert.ErrorIs(t, err, ErrProjectExists)
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, ProjectID(path), p.ID)
	}
}

func TestListProjects(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	list, err := reg.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = reg.CreateProject(ctx, t.TempDir(), "beta")
	require.NoError(t, err)
	_, err = reg.CreateProject(ctx, t.TempDir(), "alpha")
	require.NoError(t, err)

	list, err = reg.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)
}

func TestUpdateStatus(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	p, err := reg.CreateProject(ctx, t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStatus(ctx, p.ID, types.StatusIndexing, nil))
	got, err := reg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIndexing, got.Status)
	assert.Nil(t, got.LastIndexedAt)

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, reg.UpdateStatus(ctx, p.ID, types.StatusReady, &now))
	got, err = reg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status)
	require.NotNil(t, got.LastIndexedAt)
	assert.True(t, now.Equal(*got.LastIndexedAt))

	assert.ErrorIs(t, reg.UpdateStatus(ctx, "missing", types.StatusReady, nil), ErrProjectNotFound)
	assert.ErrorIs(t, reg.UpdateStatus(ctx, p.ID, types.Status("bogus"), nil), types.ErrInvalidStatus)
}

func TestUpdateSettings(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	p, err := reg.CreateProject(ctx, t.TempDir(), "")
	require.NoError(t, err)

	require.NoError(t, reg.UpdateSettings(ctx, p.ID, `{"exclude":["testdata/"]}`))
	got, err := reg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exclude":["testdata/"]}`, got.Settings)

	assert.ErrorIs(t, reg.UpdateSettings(ctx, "missing", "{}"), ErrProjectNotFound)
}

func TestDeleteProject(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	p, err := reg.CreateProject(ctx, t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.DatabasePath, []byte("x"), 0o644))

	require.NoError(t, reg.DeleteProject(ctx, p.ID, true))
	_, err = reg.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = os.Stat(p.DatabasePath)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, reg.DeleteProject(ctx, p.ID, false), ErrProjectNotFound)
}

func TestGetStats(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	p, err := reg.CreateProject(ctx, t.TempDir(), "")
	require.NoError(t, err)

	_, err = reg.GetStats(ctx, p.DatabasePath)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	store, err := storage.Open(ctx, p.DatabasePath, storage.DefaultOptions())
	require.NoError(t, err)
	_, err = store.UpsertFile(ctx, &storage.File{Path: "a.go"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	st, err := reg.GetStats(ctx, p.DatabasePath)
	require.NoError(t, err)
	assert.Equal(t, 1, st.FileCount)
	assert.Equal(t, 0, st.EmbeddingCount)
}

func TestCheckVectorSupport(t *testing.T) {
	reg := setupRegistry(t)
	assert.NoError(t, reg.CheckVectorSupport(context.Background()))
}
