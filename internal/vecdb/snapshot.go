package vecdb

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const schemaVersion = 1

// chunkSnapshot, documentSnapshot, and librarySnapshot are the gob wire
// representation of the store. Metadata is pre-marshaled to JSON so the
// snapshot never needs to register every concrete type that can appear in
// a Metadata map with the gob encoder.
type chunkSnapshot struct {
	ID           string
	Text         string
	Embedding    []float64
	MetadataJSON []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type documentSnapshot struct {
	ID           string
	Title        string
	MetadataJSON []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ChunkOrder   []string
	Chunks       []chunkSnapshot
}

type librarySnapshot struct {
	ID           string
	MetadataJSON []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsIndexed    bool
	Algorithm    Algorithm
	Dimension    int
	LSHParams    LSHParams
	Documents    []documentSnapshot
}

type storeSnapshot struct {
	SchemaVersion int
	Libraries     []librarySnapshot
}

func marshalMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, persistenceError(err, "encode metadata")
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, persistenceError(err, "decode metadata")
	}
	return m, nil
}

// snapshotNow takes a consistent shallow copy of the whole store: the
// library-set lock is held only long enough to collect entries, then each
// library's lock is acquired and its contents serialized concurrently via
// errgroup while the set lock is released, so long-running serialization
// never blocks library-set mutations and libraries don't wait on each
// other. Results land at fixed slice indices, so output order stays
// ascending by library_id regardless of completion order.
func (s *Store) snapshotNow() (storeSnapshot, error) {
	s.setMu.RLock()
	entries := make([]*libraryEntry, 0, len(s.libraries))
	for _, e := range s.libraries {
		entries = append(entries, e)
	}
	s.setMu.RUnlock()

	sortEntriesByID(entries)

	snaps := make([]librarySnapshot, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			snap, err := e.toSnapshot()
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return storeSnapshot{}, err
	}

	return storeSnapshot{SchemaVersion: schemaVersion, Libraries: snaps}, nil
}

func sortEntriesByID(entries []*libraryEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].library.ID < entries[j-1].library.ID; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func (e *libraryEntry) toSnapshot() (librarySnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	libMeta, err := marshalMetadata(e.library.Metadata)
	if err != nil {
		return librarySnapshot{}, err
	}

	snap := librarySnapshot{
		ID:           e.library.ID,
		MetadataJSON: libMeta,
		CreatedAt:    e.library.CreatedAt,
		UpdatedAt:    e.library.UpdatedAt,
		IsIndexed:    e.library.IsIndexed,
		Algorithm:    e.library.Algorithm,
		Dimension:    e.library.Dimension,
		LSHParams:    e.library.LSHParams,
	}

	for _, doc := range e.documents {
		docMeta, err := marshalMetadata(doc.Metadata)
		if err != nil {
			return librarySnapshot{}, err
		}
		docSnap := documentSnapshot{
			ID:           doc.ID,
			Title:        doc.Title,
			MetadataJSON: docMeta,
			CreatedAt:    doc.CreatedAt,
			UpdatedAt:    doc.UpdatedAt,
			ChunkOrder:   append([]string(nil), doc.ChunkOrder...),
		}
		for _, chunkID := range doc.ChunkOrder {
			c := e.chunks[chunkID]
			chunkMeta, err := marshalMetadata(c.Metadata)
			if err != nil {
				return librarySnapshot{}, err
			}
			docSnap.Chunks = append(docSnap.Chunks, chunkSnapshot{
				ID:           c.ID,
				Text:         c.Text,
				Embedding:    append([]float64(nil), c.Embedding...),
				MetadataJSON: chunkMeta,
				CreatedAt:    c.CreatedAt,
				UpdatedAt:    c.UpdatedAt,
			})
		}
		snap.Documents = append(snap.Documents, docSnap)
	}
	return snap, nil
}

// restoreFrom replaces the store's contents with snap. LSH indices are
// never trusted byte-for-byte: every is_indexed library is re-materialized
// via IndexFacade.Materialize after load, regenerating bucket layout and
// projection matrices from the persisted seed.
func (s *Store) restoreFrom(snap storeSnapshot) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	libraries := make(map[string]*libraryEntry, len(snap.Libraries))
	for _, libSnap := range snap.Libraries {
		entry, err := libraryEntryFromSnapshot(libSnap)
		if err != nil {
			return err
		}
		libraries[entry.library.ID] = entry
	}

	s.libraries = libraries
	return nil
}

func libraryEntryFromSnapshot(libSnap librarySnapshot) (*libraryEntry, error) {
	meta, err := unmarshalMetadata(libSnap.MetadataJSON)
	if err != nil {
		return nil, err
	}

	entry := &libraryEntry{
		library: Library{
			ID:        libSnap.ID,
			Metadata:  meta,
			CreatedAt: libSnap.CreatedAt,
			UpdatedAt: libSnap.UpdatedAt,
			IsIndexed: libSnap.IsIndexed,
			Algorithm: libSnap.Algorithm,
			Dimension: libSnap.Dimension,
			LSHParams: libSnap.LSHParams,
		},
		documents: make(map[string]*Document),
		chunks:    make(map[string]*Chunk),
		index:     NewIndexFacade(),
	}

	var pairs []IndexPair
	for _, docSnap := range libSnap.Documents {
		docMeta, err := unmarshalMetadata(docSnap.MetadataJSON)
		if err != nil {
			return nil, err
		}
		doc := &Document{
			ID:         docSnap.ID,
			LibraryID:  libSnap.ID,
			Title:      docSnap.Title,
			Metadata:   docMeta,
			CreatedAt:  docSnap.CreatedAt,
			UpdatedAt:  docSnap.UpdatedAt,
			ChunkOrder: append([]string(nil), docSnap.ChunkOrder...),
		}

		for _, chunkSnap := range docSnap.Chunks {
			chunkMeta, err := unmarshalMetadata(chunkSnap.MetadataJSON)
			if err != nil {
				return nil, err
			}
			c := &Chunk{
				ID:         chunkSnap.ID,
				DocumentID: doc.ID,
				LibraryID:  libSnap.ID,
				Text:       chunkSnap.Text,
				Embedding:  chunkSnap.Embedding,
				Metadata:   chunkMeta,
				CreatedAt:  chunkSnap.CreatedAt,
				UpdatedAt:  chunkSnap.UpdatedAt,
			}
			entry.chunks[c.ID] = c
			pairs = append(pairs, IndexPair{ChunkID: c.ID, Vector: c.Embedding})
		}
		entry.documents[doc.ID] = doc
	}

	if libSnap.IsIndexed {
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].ChunkID < pairs[j].ChunkID })
		if err := entry.index.Materialize(libSnap.Algorithm, libSnap.Dimension, libSnap.LSHParams, pairs); err != nil {
			return nil, persistenceError(err, "rebuild index for library %q on load", libSnap.ID)
		}
	}

	return entry, nil
}

// Snapshotter periodically persists a Store to disk as a single gob blob,
// replaced atomically by rename, with one retained backup generation.
// Concurrent WriteNow calls are coalesced via singleflight: a caller that
// arrives while a write is in flight blocks on that write and shares its
// result. Trigger never writes; it sets a dirty flag that the ticker loop
// consumes, so any number of Trigger calls between two ticks is served by
// one write.
type Snapshotter struct {
	store    *Store
	path     string
	interval time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	dirty bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSnapshotter constructs a Snapshotter for store, writing to path every
// interval.
func NewSnapshotter(store *Store, path string, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		store:    store,
		path:     path,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run is the single dedicated background worker: it wakes every interval
// and, if dirty, writes a snapshot. Shutdown is cooperative via Stop.
func (sn *Snapshotter) Run() {
	defer close(sn.doneCh)

	ticker := time.NewTicker(sn.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sn.stopCh:
			return
		case <-ticker.C:
			if sn.consumeDirty() {
				if err := sn.WriteNow(); err != nil {
					sn.logger.Error("snapshot write failed, will retry next tick", "err", err)
					sn.markDirty()
				}
			}
		}
	}
}

// Stop signals the background worker to exit and waits for it.
func (sn *Snapshotter) Stop() {
	close(sn.stopCh)
	<-sn.doneCh
}

// Trigger marks the store dirty so the next tick persists it. It never
// blocks on I/O itself.
func (sn *Snapshotter) Trigger() {
	sn.markDirty()
}

func (sn *Snapshotter) markDirty() {
	sn.mu.Lock()
	sn.dirty = true
	sn.mu.Unlock()
}

func (sn *Snapshotter) consumeDirty() bool {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	was := sn.dirty
	sn.dirty = false
	return was
}

// WriteNow forces an immediate write, coalescing with any write already in
// flight so concurrent callers share one disk round-trip.
func (sn *Snapshotter) WriteNow() error {
	_, err, _ := sn.group.Do("snapshot", func() (any, error) {
		return nil, sn.writeOnce()
	})
	return err
}

func (sn *Snapshotter) writeOnce() error {
	snap, err := sn.store.snapshotNow()
	if err != nil {
		return err
	}

	fileLock := flock.New(sn.path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return persistenceError(err, "acquire snapshot file lock")
	}
	if !locked {
		return persistenceError(nil, "snapshot write already in progress on another process")
	}
	defer fileLock.Unlock()

	tmpPath := sn.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return persistenceError(err, "create temp snapshot file")
	}

	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return persistenceError(err, "encode snapshot")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return persistenceError(err, "flush snapshot")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return persistenceError(err, "fsync snapshot")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return persistenceError(err, "close snapshot file")
	}

	backupPath := sn.path + ".bak"
	if _, err := os.Stat(sn.path); err == nil {
		if err := os.Rename(sn.path, backupPath); err != nil {
			os.Remove(tmpPath)
			return persistenceError(err, "rotate snapshot backup")
		}
	}

	if err := os.Rename(tmpPath, sn.path); err != nil {
		return persistenceError(err, "install snapshot")
	}

	sn.logger.Info("snapshot written", "path", sn.path, "libraries", len(snap.Libraries))
	return nil
}

// LoadSnapshot reads and gob-decodes the blob at path.
func LoadSnapshot(path string) (storeSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return storeSnapshot{}, persistenceError(err, "open snapshot %q", path)
	}
	defer f.Close()

	var snap storeSnapshot
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&snap); err != nil {
		return storeSnapshot{}, persistenceError(err, "decode snapshot %q", path)
	}
	if snap.SchemaVersion != schemaVersion {
		return storeSnapshot{}, persistenceError(fmt.Errorf("got version %d, want %d", snap.SchemaVersion, schemaVersion), "snapshot schema mismatch")
	}
	return snap, nil
}
