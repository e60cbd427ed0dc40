package buffer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Guliveer/nutwatch/internal/models"
)

func batch(id, ups string) models.Batch {
	return models.Batch{
		ID:       id,
		Agent:    models.Agent{Hostname: "nas"},
		Readings: []models.Reading{{UPS: ups, Vars: map[string]string{"ups.status": "OL"}}},
	}
}

// clock returns a Buffer clock that advances one second per call.
func clock() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newBuffer(t *testing.T, maxMB int, logger *zap.Logger) (*Buffer, string) {
	dir := filepath.Join(t.TempDir(), "nested", "buffer")
	b, err := New(dir, maxMB, logger)
	require.NoError(t, err)
	b.now = clock()
	return b, dir
}

func TestStoreAndTake(t *testing.T) {
	b, _ := newBuffer(t, 50, zap.NewNop())

	require.NoError(t, b.Store(batch("b-1", "first")))
	require.NoError(t, b.Store(batch("b-2", "second")))
	assert.Equal(t, 2, b.Len())

	entries, err := b.Take()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b-1", entries[0].Batch.ID)
	assert.Equal(t, "first", entries[0].Batch.Readings[0].UPS)
	assert.Equal(t, "nas", entries[0].Batch.Agent.Hostname)
	assert.Equal(t, "b-2", entries[1].Batch.ID)
	assert.True(t, entries[0].QueuedAt.Before(entries[1].QueuedAt))
	assert.Zero(t, entries[0].Replays)

	assert.Equal(t, 0, b.Len())
}

func TestRequeue_KeepsIDAndPosition(t *testing.T) {
	b, _ := newBuffer(t, 50, zap.NewNop())

	require.NoError(t, b.Store(batch("b-1", "first")))
	require.NoError(t, b.Store(batch("b-2", "second")))

	entries, err := b.Take()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// A batch queued after the take must still come after the requeued ones.
	require.NoError(t, b.Store(batch("b-3", "third")))
	for _, e := range entries {
		require.NoError(t, b.Requeue(e))
	}

	again, err := b.Take()
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.Equal(t, "b-1", again[0].Batch.ID)
	assert.Equal(t, 1, again[0].Replays)
	assert.Equal(t, entries[0].QueuedAt, again[0].QueuedAt)
	assert.Equal(t, "b-2", again[1].Batch.ID)
	assert.Equal(t, "b-3", again[2].Batch.ID)
	assert.Zero(t, again[2].Replays)
}

func TestStore_RejectsBatchWithoutUsableID(t *testing.T) {
	b, dir := newBuffer(t, 50, zap.NewNop())

	assert.ErrorContains(t, b.Store(batch("", "cellar")), "batch has no ID")
	assert.ErrorContains(t, b.Store(batch("../escape", "cellar")), "not a valid file name")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTake_DiscardsCorruptedEntries(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b, dir := newBuffer(t, 50, zap.New(core))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000T000000.000000000-broken.json"), []byte("{not json"), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000T000000.000000001-anon.json"), []byte(`{"batch":{"readings":[]}}`), 0640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0640))
	require.NoError(t, b.Store(batch("b-1", "cellar")))

	entries, err := b.Take()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b-1", entries[0].Batch.ID)
	assert.Equal(t, 2, logs.FilterMessage("Discarding corrupted buffered batch").Len())

	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestStore_EvictsOldestWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b, _ := newBuffer(t, 0, zap.New(core))

	require.NoError(t, b.Store(batch("old", "cellar")))
	require.NoError(t, b.Store(batch("new", "cellar")))

	entries, err := b.Take()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].Batch.ID)

	evicted := logs.FilterMessage("Buffer full, evicted oldest batch")
	require.Equal(t, 1, evicted.Len())
	assert.Equal(t, "old", evicted.All()[0].ContextMap()["batch"])
}

func TestStore_KeepsBatchesUnderCap(t *testing.T) {
	b, _ := newBuffer(t, 1, zap.NewNop())

	for _, id := range []string{"b-1", "b-2", "b-3"} {
		require.NoError(t, b.Store(batch(id, "cellar")))
	}
	assert.Equal(t, 3, b.Len())
}
