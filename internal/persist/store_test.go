package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/cellx/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history", "cells.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshot(id schema.CellID, input string, state schema.CellState) schema.CellSnapshot {
	return schema.CellSnapshot{
		Props: schema.CellProps{ID: id, Input: input, CurrentDir: "/tmp"},
		State: state,
	}
}

func TestStoreRecordsCellLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.StartCell(ctx, snapshot("c1", "echo hi", schema.CellCreated), started))
	out := schema.OutputChunk([]byte("hi\n"), schema.StreamStdout)
	out.CellID, out.Seq = "c1", 3
	require.NoError(t, store.AppendMessage(ctx, out))
	require.NoError(t, store.AppendMessage(ctx, schema.StatusChanged(schema.CellRunning)))

	done := snapshot("c1", "echo hi", schema.CellCompleted)
	done.Kind = "external"
	require.NoError(t, store.FinishCell(ctx, done, started.Add(time.Second)))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, schema.CellID("c1"), entries[0].ID)
	require.Equal(t, schema.CellCompleted, entries[0].State)
	require.Equal(t, "external", entries[0].Kind)
	require.Equal(t, started.UnixMilli()+1000, entries[0].FinishedAt)

	chunks, err := store.Output(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, []byte("hi\n"), chunks[0].Data)
	require.Equal(t, uint64(3), chunks[0].Seq)
	require.Equal(t, schema.StreamStdout, chunks[0].Stream)
}

func TestStoreRecordsErrorDescription(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.StartCell(ctx, snapshot("c1", "frobnicate", schema.CellCreated), time.Now()))
	msg := schema.ErrorMessage("not_found", "command not found: frobnicate")
	msg.CellID = "c1"
	require.NoError(t, store.AppendMessage(ctx, msg))

	entries, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "command not found: frobnicate", entries[0].Error)
}

func TestStoreRecentInputsDistinctNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	inputs := []string{"ls", "git status", "ls", "make"}
	for i, input := range inputs {
		id := schema.CellID([]string{"a", "b", "c", "d"}[i])
		require.NoError(t, store.StartCell(ctx, snapshot(id, input, schema.CellCreated), base.Add(time.Duration(i)*time.Second)))
	}
	got, err := store.RecentInputs(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"make", "ls", "git status"}, got)
}

func TestStorePrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.StartCell(ctx, snapshot("old", "ls", schema.CellCreated), old))
	require.NoError(t, store.StartCell(ctx, snapshot("new", "ls", schema.CellCreated), time.Now()))
	n, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, schema.CellID("new"), entries[0].ID)
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.StartCell(context.Background(), snapshot("c1", "ls", schema.CellCreated), time.Now()))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
