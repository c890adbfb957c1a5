package vecdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactIndexTopK(t *testing.T) {
	idx := NewExactIndex()
	require.NoError(t, idx.Add("a", []float64{1, 0}))
	require.NoError(t, idx.Add("b", []float64{0.9, 0.1}))
	require.NoError(t, idx.Add("c", []float64{0, 1}))

	results, err := idx.Search([]float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "b", results[1].ChunkID)
}

func TestExactIndexTieBreakByChunkID(t *testing.T) {
	idx := NewExactIndex()
	require.NoError(t, idx.Add("z", []float64{1, 0}))
	require.NoError(t, idx.Add("a", []float64{1, 0}))

	results, err := idx.Search([]float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.Equal(t, "z", results[1].ChunkID)
}

func TestExactIndexDuplicateAdd(t *testing.T) {
	idx := NewExactIndex()
	require.NoError(t, idx.Add("a", []float64{1, 0}))
	err := idx.Add("a", []float64{0, 1})
	require.Error(t, err)
	assert.Equal(t, KindDuplicateID, KindOf(err))
}

func TestExactIndexSwapRemove(t *testing.T) {
	idx := NewExactIndex()
	require.NoError(t, idx.Add("a", []float64{1, 0}))
	require.NoError(t, idx.Add("b", []float64{0, 1}))
	require.NoError(t, idx.Add("c", []float64{1, 1}))

	require.NoError(t, idx.Remove("a"))
	assert.Equal(t, 2, idx.Len())

	results, err := idx.Search([]float64{0, 1}, 2)
	require.NoError(t, err)
	ids := []string{results[0].ChunkID, results[1].ChunkID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)

	require.NoError(t, idx.Remove("b"))
	require.NoError(t, idx.Remove("c"))
	assert.Equal(t, 0, idx.Len())
}

func TestExactIndexRemoveMissing(t *testing.T) {
	idx := NewExactIndex()
	err := idx.Remove("missing")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestExactIndexUpdate(t *testing.T) {
	idx := NewExactIndex()
	require.NoError(t, idx.Add("a", []float64{1, 0}))
	require.NoError(t, idx.Update("a", []float64{0, 1}))

	results, err := idx.Search([]float64{0, 1}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
}

func TestExactIndexSearchReturnsAllWhenFewerThanK(t *testing.T) {
	idx := NewExactIndex()
	require.NoError(t, idx.Add("a", []float64{1, 0}))
	require.NoError(t, idx.Add("b", []float64{0, 1}))

	results, err := idx.Search([]float64{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
