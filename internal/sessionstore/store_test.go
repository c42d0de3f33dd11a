package sessionstore

import (
	"context"
	"testing"

	"github.com/crabmiau/loaf/internal/db"
	"github.com/crabmiau/loaf/internal/process"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := t.TempDir() + "/sessions.db"
	writer, err := db.OpenSQLite(dbPath)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close(); _ = reader.Close() })

	store := New(db.NewPool(writer, reader))
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestStoreUpsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, Record{
		ID:          "s1",
		Name:        "main",
		RolloutPath: "/tmp/s1.jsonl",
		WorkingDir:  "/tmp",
		Provider:    "anthropic",
	}))

	rec, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "main", rec.Name)
	require.Equal(t, "/tmp/s1.jsonl", rec.RolloutPath)

	paths, err := store.SidecarPaths(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "/tmp/s1.compact.state.json", paths.State)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreListAndDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, Record{ID: "a", RolloutPath: "/tmp/a.jsonl"}))
	require.NoError(t, store.Upsert(ctx, Record{ID: "b", RolloutPath: "/tmp/b.jsonl"}))

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NoError(t, store.Delete(ctx, "a"))
	recs, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "b", recs[0].ID)
}

func TestRecorderLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	info := process.Info{ID: "bg1", Name: "build", WorkingDir: "/tmp", ShellTag: "bash"}
	require.NoError(t, store.RecordStart(ctx, info))

	rec, ok, err := store.Get(ctx, "bg1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "shell:bash", rec.Provider)
	require.Equal(t, "", rec.RolloutPath)

	require.NoError(t, store.RecordExit(ctx, info))
	_, ok, err = store.Get(ctx, "bg1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReconcilePrunesShellsKeepsRollouts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordStart(ctx, process.Info{ID: "stale-shell", ShellTag: "sh"}))
	require.NoError(t, store.Upsert(ctx, Record{ID: "conv", RolloutPath: "/tmp/conv.jsonl"}))

	resumable, err := store.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	require.Equal(t, "conv", resumable[0].ID)

	_, ok, err := store.Get(ctx, "stale-shell")
	require.NoError(t, err)
	require.False(t, ok)
}
