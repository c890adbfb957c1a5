package vecdb

// IndexPair is a (chunk_id, embedding) tuple used to materialize or rebuild
// a backend from a library's current chunk set.
type IndexPair struct {
	ChunkID string
	Vector  []float64
}

// backend is the capability set both ExactIndex and LSHIndex satisfy. The
// facade dispatches to whichever backend is active without knowing which
// concrete type it holds.
type backend interface {
	Add(chunkID string, vector []float64) error
	Remove(chunkID string) error
	Update(chunkID string, vector []float64) error
	Search(query []float64, k int) ([]SearchResult, error)
	Len() int
}

// IndexFacade is the per-library indirection selecting ExactIndex or
// LSHIndex. It holds at most one active backend; state is "none" until the
// first index_library call.
type IndexFacade struct {
	algorithm Algorithm // zero value means no backend materialized
	dimension int
	lshParams LSHParams
	active    backend
}

// NewIndexFacade returns a facade with no active backend.
func NewIndexFacade() *IndexFacade {
	return &IndexFacade{}
}

func (f *IndexFacade) IsIndexed() bool {
	return f.active != nil
}

func (f *IndexFacade) Algorithm() Algorithm {
	return f.algorithm
}

func validatePairDimensions(dimension int, pairs []IndexPair) error {
	if dimension <= 0 {
		return nil
	}
	for _, pair := range pairs {
		if len(pair.Vector) != dimension {
			return dimensionMismatch("chunk %q has dimension %d, library dimension is %d", pair.ChunkID, len(pair.Vector), dimension)
		}
	}
	return nil
}

// buildBackend constructs a fresh backend for algorithm and loads pairs into
// it. For LSH this goes through RebuildFrom so construction and reload
// share one code path: the projection matrices are always re-seeded from
// the stored seed immediately before the pairs are re-inserted.
func buildBackend(algorithm Algorithm, dimension int, lshParams LSHParams, pairs []IndexPair) (backend, error) {
	if err := validatePairDimensions(dimension, pairs); err != nil {
		return nil, err
	}

	switch algorithm {
	case AlgorithmExact:
		b := NewExactIndex()
		for _, pair := range pairs {
			if err := b.Add(pair.ChunkID, pair.Vector); err != nil {
				return nil, err
			}
		}
		return b, nil
	case AlgorithmLSH:
		tables, planes, seed := lshParams.Tables, lshParams.Planes, lshParams.Seed
		if tables <= 0 {
			tables = DefaultLSHTables
		}
		if planes <= 0 {
			planes = DefaultLSHPlanes
		}
		if seed == 0 {
			seed = DefaultLSHSeed
		}
		b := NewLSHIndex(dimension, tables, planes, seed)
		if err := b.RebuildFrom(pairs); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, invalidArgument("unknown index algorithm %q", algorithm)
	}
}

// Materialize constructs the chosen backend and inserts every chunk from
// allChunks, which callers must present in chunk_id order for determinism.
func (f *IndexFacade) Materialize(algorithm Algorithm, dimension int, lshParams LSHParams, allChunks []IndexPair) error {
	b, err := buildBackend(algorithm, dimension, lshParams, allChunks)
	if err != nil {
		return err
	}

	f.active = b
	f.algorithm = algorithm
	f.dimension = dimension
	f.lshParams = lshParams
	return nil
}

// Swap atomically replaces the backend: the new index is built first off
// to the side, and only installed once construction succeeds, so a failed
// build leaves the previous backend untouched.
func (f *IndexFacade) Swap(newAlgorithm Algorithm, lshParams LSHParams, allChunks []IndexPair) error {
	b, err := buildBackend(newAlgorithm, f.dimension, lshParams, allChunks)
	if err != nil {
		return err
	}

	f.active = b
	f.algorithm = newAlgorithm
	f.lshParams = lshParams
	return nil
}

func (f *IndexFacade) OnChunkAdded(chunkID string, vector []float64) error {
	if f.active == nil {
		return nil
	}
	if f.dimension == 0 && f.active.Len() == 0 {
		// Materialized over a library with no chunks yet: the first chunk
		// fixes the dimension, so rebuild the empty backend at that size.
		b, err := buildBackend(f.algorithm, len(vector), f.lshParams, nil)
		if err != nil {
			return err
		}
		f.active = b
		f.dimension = len(vector)
	}
	if len(vector) != f.dimension {
		return dimensionMismatch("chunk %q has dimension %d, library dimension is %d", chunkID, len(vector), f.dimension)
	}
	return f.active.Add(chunkID, vector)
}

func (f *IndexFacade) OnChunkRemoved(chunkID string) error {
	if f.active == nil {
		return nil
	}
	return f.active.Remove(chunkID)
}

func (f *IndexFacade) OnChunkUpdated(chunkID string, vector []float64) error {
	if f.active == nil {
		return nil
	}
	if len(vector) != f.dimension {
		return dimensionMismatch("chunk %q has dimension %d, library dimension is %d", chunkID, len(vector), f.dimension)
	}
	return f.active.Update(chunkID, vector)
}

func (f *IndexFacade) Search(query []float64, k int) ([]SearchResult, error) {
	if f.active == nil {
		return nil, notIndexed("library has no active index")
	}
	if len(query) != f.dimension {
		return nil, dimensionMismatch("query has dimension %d, library dimension is %d", len(query), f.dimension)
	}
	if k <= 0 {
		return nil, invalidArgument("k must be positive, got %d", k)
	}
	return f.active.Search(query, k)
}

// SearchAll returns every indexed candidate for query ranked by distance,
// with no k-positivity check — callers that need the full candidate set
// (e.g. to apply a metadata post-filter before their own top-k truncation)
// use this instead of Search(query, Len()), which would incorrectly reject
// an empty-but-indexed library (Len()==0) as an invalid k.
func (f *IndexFacade) SearchAll(query []float64) ([]SearchResult, error) {
	if f.active == nil {
		return nil, notIndexed("library has no active index")
	}
	if len(query) != f.dimension {
		return nil, dimensionMismatch("query has dimension %d, library dimension is %d", len(query), f.dimension)
	}
	return f.active.Search(query, f.active.Len())
}

func (f *IndexFacade) Len() int {
	if f.active == nil {
		return 0
	}
	return f.active.Len()
}
