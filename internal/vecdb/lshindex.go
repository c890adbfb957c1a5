package vecdb

import (
	"math/rand"
	"sort"
)

const (
	DefaultLSHTables = 4
	DefaultLSHPlanes = 8
	DefaultLSHSeed   = 42
)

// LSHIndex is a multi-table random-hyperplane locality-sensitive hash over
// cosine similarity. Bit i of a table's signature is the sign of the dot
// product with that table's i-th hyperplane; LSB is plane 0.
type LSHIndex struct {
	dimension int
	tables    int
	planes    int
	seed      int64

	// projections[t][p] is the p-th hyperplane of table t, length dimension.
	projections [][][]float64

	// buckets[t][signature] is the set of chunk ids hashing to that
	// signature in table t.
	buckets []map[uint64]map[string]struct{}

	vectors    map[string][]float64
	signatures map[string][]uint64 // chunk_id -> per-table signature, for O(1) removal
}

// NewLSHIndex constructs an LSH index with the given parameters, drawing
// projection matrices deterministically from seed.
func NewLSHIndex(dimension, tables, planes int, seed int64) *LSHIndex {
	if tables <= 0 {
		tables = DefaultLSHTables
	}
	if planes <= 0 {
		planes = DefaultLSHPlanes
	}

	idx := &LSHIndex{
		dimension:  dimension,
		tables:     tables,
		planes:     planes,
		seed:       seed,
		vectors:    make(map[string][]float64),
		signatures: make(map[string][]uint64),
	}
	idx.seedProjections()
	return idx
}

func (idx *LSHIndex) seedProjections() {
	rng := rand.New(rand.NewSource(idx.seed))

	idx.projections = make([][][]float64, idx.tables)
	idx.buckets = make([]map[uint64]map[string]struct{}, idx.tables)
	for t := 0; t < idx.tables; t++ {
		planes := make([][]float64, idx.planes)
		for p := 0; p < idx.planes; p++ {
			planes[p] = randomHyperplane(idx.dimension, rng)
		}
		idx.projections[t] = planes
		idx.buckets[t] = make(map[uint64]map[string]struct{})
	}
}

// signature packs one bit per hyperplane of table: bit p is 1 when the dot
// product with plane p is positive and 0 otherwise, so a zero dot product
// yields 0, matching spec 4.C's sign(0) := 0 convention.
func (idx *LSHIndex) signature(table int, unit []float64) uint64 {
	var sig uint64
	for p, plane := range idx.projections[table] {
		if dot(unit, plane) > 0 {
			sig |= 1 << uint(p)
		}
	}
	return sig
}

func (idx *LSHIndex) allSignatures(unit []float64) []uint64 {
	sigs := make([]uint64, idx.tables)
	for t := 0; t < idx.tables; t++ {
		sigs[t] = idx.signature(t, unit)
	}
	return sigs
}

func (idx *LSHIndex) Add(chunkID string, vector []float64) error {
	if _, exists := idx.vectors[chunkID]; exists {
		return duplicateID("chunk %q already present in lsh index", chunkID)
	}

	unit, err := normalize(vector)
	if err != nil {
		return err
	}

	sigs := idx.allSignatures(unit)
	for t, sig := range sigs {
		bucket, ok := idx.buckets[t][sig]
		if !ok {
			bucket = make(map[string]struct{})
			idx.buckets[t][sig] = bucket
		}
		bucket[chunkID] = struct{}{}
	}

	idx.vectors[chunkID] = unit
	idx.signatures[chunkID] = sigs
	return nil
}

func (idx *LSHIndex) Remove(chunkID string) error {
	sigs, exists := idx.signatures[chunkID]
	if !exists {
		return notFound("chunk %q not present in lsh index", chunkID)
	}

	for t, sig := range sigs {
		bucket := idx.buckets[t][sig]
		delete(bucket, chunkID)
		if len(bucket) == 0 {
			delete(idx.buckets[t], sig)
		}
	}

	delete(idx.vectors, chunkID)
	delete(idx.signatures, chunkID)
	return nil
}

// Update is equivalent to Remove followed by Add but atomic from the
// caller's view: the new vector is validated before anything is mutated,
// so a degenerate vector leaves the old entry in place rather than
// dropping it.
func (idx *LSHIndex) Update(chunkID string, vector []float64) error {
	if _, exists := idx.vectors[chunkID]; !exists {
		return notFound("chunk %q not present in lsh index", chunkID)
	}
	if _, err := normalize(vector); err != nil {
		return err
	}

	if err := idx.Remove(chunkID); err != nil {
		return err
	}
	return idx.Add(chunkID, vector)
}

// Search unions the candidate buckets across all tables for query's
// signature, scores candidates by cosine distance, and returns the top k
// with ExactIndex's tie-break rule. An empty union yields an empty result;
// the core never downgrades to brute force on its own.
func (idx *LSHIndex) Search(query []float64, k int) ([]SearchResult, error) {
	unit, err := normalize(query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]struct{})
	for t, sig := range idx.allSignatures(unit) {
		for id := range idx.buckets[t][sig] {
			candidates[id] = struct{}{}
		}
	}

	results := make([]SearchResult, 0, len(candidates))
	for id := range candidates {
		results = append(results, SearchResult{ChunkID: id, Distance: cosineDistance(unit, idx.vectors[id])})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// RebuildFrom clears all buckets, re-seeds projection matrices from the
// stored seed, and re-inserts every pair in order. Used on snapshot load
// and on algorithm swap so bucket layout is reproducible.
func (idx *LSHIndex) RebuildFrom(pairs []IndexPair) error {
	idx.vectors = make(map[string][]float64)
	idx.signatures = make(map[string][]uint64)
	idx.seedProjections()

	for _, pair := range pairs {
		if err := idx.Add(pair.ChunkID, pair.Vector); err != nil {
			return err
		}
	}
	return nil
}

func (idx *LSHIndex) Len() int {
	return len(idx.vectors)
}
