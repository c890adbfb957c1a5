package vecdb

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPopulatedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	_, err := s.CreateLibrary(CreateLibraryInput{ID: "lib1", Metadata: Metadata{"team": "search"}})
	require.NoError(t, err)

	_, err = s.CreateDocument("lib1", CreateDocumentInput{
		ID:    "doc1",
		Title: "Doc One",
		Chunks: []CreateChunkInput{
			{ID: "c1", Text: "hello world", Embedding: []float64{1, 0, 0}, Metadata: Metadata{"page": 1}},
			{ID: "c2", Text: "goodbye", Embedding: []float64{0, 1, 0}},
		},
	})
	require.NoError(t, err)

	_, err = s.IndexLibrary("lib1", AlgorithmExact, LSHParams{})
	require.NoError(t, err)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := buildPopulatedStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "vecdb.snapshot")

	sn := NewSnapshotter(s, path, time.Hour, nil)
	require.NoError(t, sn.WriteNow())

	snap, err := LoadSnapshot(path)
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.restoreFrom(snap))

	lib, err := restored.GetLibrary("lib1")
	require.NoError(t, err)
	assert.Equal(t, "search", lib.Metadata["team"])
	assert.True(t, lib.IsIndexed)

	results, err := restored.Search("lib1", []float64{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestSnapshotWriteThenOverwriteCreatesBackup(t *testing.T) {
	s := buildPopulatedStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "vecdb.snapshot")

	sn := NewSnapshotter(s, path, time.Hour, nil)
	require.NoError(t, sn.WriteNow())

	_, err := s.CreateDocument("lib1", CreateDocumentInput{ID: "doc2"})
	require.NoError(t, err)
	require.NoError(t, sn.WriteNow())

	backup, err := LoadSnapshot(path + ".bak")
	require.NoError(t, err)
	assert.Len(t, backup.Libraries[0].Documents, 1, "backup should reflect the first write")

	current, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Len(t, current.Libraries[0].Documents, 2)
}

func TestLoadSnapshotSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.snapshot")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gob.NewEncoder(f).Encode(storeSnapshot{SchemaVersion: 99}))
	require.NoError(t, f.Close())

	_, err = LoadSnapshot(path)
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
}

func TestSnapshotterTriggerCoalescesWrites(t *testing.T) {
	s := buildPopulatedStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "vecdb.snapshot")

	sn := NewSnapshotter(s, path, time.Hour, nil)
	sn.Trigger()
	sn.Trigger()
	assert.True(t, sn.consumeDirty())
	assert.False(t, sn.consumeDirty(), "dirty flag should clear after being consumed once")
}
