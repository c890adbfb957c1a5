package vecdb

import "time"

// Algorithm selects the nearest-neighbor backend materialized for a library.
type Algorithm string

const (
	AlgorithmExact Algorithm = "exact"
	AlgorithmLSH   Algorithm = "lsh"
)

// Metadata is an arbitrary JSON-representable key/value bag attached to
// libraries, documents, and chunks.
type Metadata map[string]any

// Library is a top-level namespace owning documents and, once indexed, a
// single IndexFacade.
type Library struct {
	ID        string
	Metadata  Metadata
	CreatedAt time.Time
	UpdatedAt time.Time

	IsIndexed bool
	Algorithm Algorithm

	// Dimension is fixed at the first chunk insertion for this library and
	// zero until then.
	Dimension int

	LSHParams LSHParams
}

// LSHParams captures the construction parameters of a library's LSH index,
// persisted so rebuild_from can reproduce identical bucket layout on load.
type LSHParams struct {
	Tables int
	Planes int
	Seed   int64
}

// Document is a named collection of chunks within one library.
type Document struct {
	ID         string
	LibraryID  string
	Title      string
	Metadata   Metadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ChunkOrder []string // chunk ids in insertion order, for deterministic iteration
}

// Chunk is the smallest unit of retrieval: one text fragment and its
// embedding.
type Chunk struct {
	ID         string
	DocumentID string
	LibraryID  string
	Text       string
	Embedding  []float64
	Metadata   Metadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SearchResult pairs a chunk id with its cosine distance to the query.
type SearchResult struct {
	ChunkID  string
	Distance float64
}
