package vecdb

import "sort"

// ExactIndex holds every stored vector and answers search by brute-force
// cosine distance. Insert is O(1) amortized; search scores and sorts all n
// stored vectors before truncating to k, so it is O(n*d + n log n).
type ExactIndex struct {
	ids     []string
	vectors [][]float64
	pos     map[string]int // chunk_id -> index into ids/vectors
}

// NewExactIndex returns an empty exact index.
func NewExactIndex() *ExactIndex {
	return &ExactIndex{
		pos: make(map[string]int),
	}
}

func (idx *ExactIndex) Add(chunkID string, vector []float64) error {
	if _, exists := idx.pos[chunkID]; exists {
		return duplicateID("chunk %q already present in exact index", chunkID)
	}

	unit, err := normalize(vector)
	if err != nil {
		return err
	}

	idx.pos[chunkID] = len(idx.ids)
	idx.ids = append(idx.ids, chunkID)
	idx.vectors = append(idx.vectors, unit)
	return nil
}

func (idx *ExactIndex) Remove(chunkID string) error {
	i, exists := idx.pos[chunkID]
	if !exists {
		return notFound("chunk %q not present in exact index", chunkID)
	}

	last := len(idx.ids) - 1
	idx.ids[i] = idx.ids[last]
	idx.vectors[i] = idx.vectors[last]
	idx.pos[idx.ids[i]] = i

	idx.ids = idx.ids[:last]
	idx.vectors = idx.vectors[:last]
	delete(idx.pos, chunkID)
	return nil
}

func (idx *ExactIndex) Update(chunkID string, vector []float64) error {
	i, exists := idx.pos[chunkID]
	if !exists {
		return notFound("chunk %q not present in exact index", chunkID)
	}

	unit, err := normalize(vector)
	if err != nil {
		return err
	}

	idx.vectors[i] = unit
	return nil
}

// Search returns the k chunk ids with minimum cosine distance to query,
// ties broken by ascending chunk_id.
func (idx *ExactIndex) Search(query []float64, k int) ([]SearchResult, error) {
	unit, err := normalize(query)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(idx.ids))
	for i, id := range idx.ids {
		results[i] = SearchResult{ChunkID: id, Distance: cosineDistance(unit, idx.vectors[i])}
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

func (idx *ExactIndex) Len() int {
	return len(idx.ids)
}
