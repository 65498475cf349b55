package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/cellx/schema"
)

func TestRecorderWritesEvents(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store, 16, nil)

	rec.CellStarted(snapshot("c1", "echo hi", schema.CellCreated))
	out := schema.OutputChunk([]byte("hi\n"), schema.StreamStdout)
	out.CellID, out.Seq = "c1", 3
	rec.CellMessage(out)
	rec.CellMessage(schema.StatusChanged(schema.CellRunning))
	rec.CellFinished(snapshot("c1", "echo hi", schema.CellCompleted))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))

	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, schema.CellCompleted, entries[0].State)
	chunks, err := store.Output(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Zero(t, rec.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := openTestStore(t)
	rec := &Recorder{
		store:  store,
		events: make(chan event, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	// No loop running: the second event cannot be queued.
	rec.CellStarted(snapshot("c1", "ls", schema.CellCreated))
	rec.CellStarted(snapshot("c2", "ls", schema.CellCreated))
	require.Equal(t, uint64(1), rec.Dropped())
}

func TestRecorderIgnoresEventsAfterClose(t *testing.T) {
	store := openTestStore(t)
	rec := NewRecorder(store, 4, nil)
	require.NoError(t, rec.Close(context.Background()))
	rec.CellStarted(snapshot("late", "ls", schema.CellCreated))
	require.Zero(t, rec.Dropped())
	entries, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}
