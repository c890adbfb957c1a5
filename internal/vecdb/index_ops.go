package vecdb

import (
	"sort"
	"time"
)

// IndexLibrary materializes an index for libraryID with the given
// algorithm. If the library is already indexed this is equivalent to
// SwitchAlgorithm. Go has no reentrant mutex, so instead of holding the
// write lock across the whole build, this takes a read lock to snapshot
// the chunk set, builds the backend unlocked, then takes the write lock
// only to install it. If a mutation raced with the unlocked build, the
// chunk set is re-snapshotted once more under the write lock and rebuilt
// before install.
func (s *Store) IndexLibrary(libraryID string, algorithm Algorithm, lshParams LSHParams) (Library, error) {
	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return Library{}, err
	}

	// A speculative unlocked build lets readers and writers keep going while
	// the (potentially large) index construction runs.
	pairs, dimension := entry.snapshotPairs()
	speculative := NewIndexFacade()
	if err := speculative.Materialize(algorithm, dimension, lshParams, pairs); err != nil {
		return Library{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// The chunk set may have changed since the unlocked snapshot above; the
	// speculative build is only reused verbatim if it didn't. Otherwise
	// rebuild once more, now under the write lock, against the current
	// state — still cheaper in the common case where nothing raced.
	freshPairs, freshDimension := entry.pairsLocked()
	newIndex := speculative
	if !pairsEqual(pairs, freshPairs) {
		newIndex = NewIndexFacade()
		if err := newIndex.Materialize(algorithm, freshDimension, lshParams, freshPairs); err != nil {
			return Library{}, err
		}
	}

	entry.index = newIndex
	entry.library.IsIndexed = true
	entry.library.Algorithm = algorithm
	entry.library.LSHParams = lshParams
	entry.library.UpdatedAt = time.Now().UTC()
	return entry.library, nil
}

// SwitchAlgorithm hot-swaps the active backend. The new index is built
// completely before the old one is replaced, so a failed build (e.g.
// DimensionMismatch) leaves the previous index intact and IsIndexed
// unchanged.
func (s *Store) SwitchAlgorithm(libraryID string, algorithm Algorithm, lshParams LSHParams) (Library, error) {
	return s.IndexLibrary(libraryID, algorithm, lshParams)
}

// Search delegates to the library's IndexFacade. metadataFilter, when
// non-nil, is applied to the candidate set before top-k truncation, so k
// results come back whenever at least k candidates match. With LSH the
// candidates are only the chunks sharing a bucket with the query.
func (s *Store) Search(libraryID string, query []float64, k int, metadataFilter func(Metadata) bool) ([]SearchResult, error) {
	if k <= 0 {
		return nil, invalidArgument("k must be positive, got %d", k)
	}

	entry, err := s.lookupLibrary(libraryID)
	if err != nil {
		return nil, err
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	if metadataFilter == nil {
		return entry.index.Search(query, k)
	}

	// A post-filter needs more candidates than k, since filtered-out chunks
	// must not shrink the result below k when enough matches exist. Pull
	// every indexed candidate via SearchAll, filter, then truncate to the
	// already-validated k.
	all, err := entry.index.SearchAll(query)
	if err != nil {
		return nil, err
	}

	filtered := make([]SearchResult, 0, len(all))
	for _, r := range all {
		c, exists := entry.chunks[r.ChunkID]
		if exists && metadataFilter(c.Metadata) {
			filtered = append(filtered, r)
		}
	}
	if k < len(filtered) {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// snapshotPairs takes a read lock and returns every chunk in the library as
// an IndexPair, ordered by chunk_id for deterministic materialization.
func (e *libraryEntry) snapshotPairs() ([]IndexPair, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pairsLocked()
}

// pairsLocked assumes the caller already holds e.mu in some mode.
func (e *libraryEntry) pairsLocked() ([]IndexPair, int) {
	pairs := make([]IndexPair, 0, len(e.chunks))
	for id, c := range e.chunks {
		pairs = append(pairs, IndexPair{ChunkID: id, Vector: c.Embedding})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ChunkID < pairs[j].ChunkID })
	return pairs, e.library.Dimension
}

func pairsEqual(a, b []IndexPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ChunkID != b[i].ChunkID || len(a[i].Vector) != len(b[i].Vector) {
			return false
		}
		for j := range a[i].Vector {
			if a[i].Vector[j] != b[i].Vector[j] {
				return false
			}
		}
	}
	return true
}
