package vecdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePairs() []IndexPair {
	return []IndexPair{
		{ChunkID: "a", Vector: []float64{1, 0}},
		{ChunkID: "b", Vector: []float64{0, 1}},
	}
}

func TestIndexFacadeNotIndexedBeforeMaterialize(t *testing.T) {
	f := NewIndexFacade()
	assert.False(t, f.IsIndexed())

	_, err := f.Search([]float64{1, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, KindNotIndexed, KindOf(err))
}

func TestIndexFacadeMaterializeExact(t *testing.T) {
	f := NewIndexFacade()
	require.NoError(t, f.Materialize(AlgorithmExact, 2, LSHParams{}, samplePairs()))
	assert.True(t, f.IsIndexed())
	assert.Equal(t, AlgorithmExact, f.Algorithm())

	results, err := f.Search([]float64{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestIndexFacadeMaterializeLSH(t *testing.T) {
	f := NewIndexFacade()
	require.NoError(t, f.Materialize(AlgorithmLSH, 2, LSHParams{Tables: 2, Planes: 4, Seed: 3}, samplePairs()))
	assert.True(t, f.IsIndexed())
	assert.Equal(t, AlgorithmLSH, f.Algorithm())
}

func TestIndexFacadeSwapPreservesDataOnSuccess(t *testing.T) {
	f := NewIndexFacade()
	require.NoError(t, f.Materialize(AlgorithmExact, 2, LSHParams{}, samplePairs()))

	require.NoError(t, f.Swap(AlgorithmLSH, LSHParams{Tables: 2, Planes: 4, Seed: 9}, samplePairs()))
	assert.Equal(t, AlgorithmLSH, f.Algorithm())
	assert.Equal(t, 2, f.Len())
}

func TestIndexFacadeSwapFailureLeavesOldBackendIntact(t *testing.T) {
	f := NewIndexFacade()
	require.NoError(t, f.Materialize(AlgorithmExact, 2, LSHParams{}, samplePairs()))

	badPairs := []IndexPair{{ChunkID: "c", Vector: []float64{1, 2, 3}}}
	err := f.Swap(AlgorithmExact, LSHParams{}, badPairs)
	require.Error(t, err)
	assert.Equal(t, KindDimensionMismatch, KindOf(err))

	// Old backend must still answer queries.
	assert.Equal(t, AlgorithmExact, f.Algorithm())
	results, err := f.Search([]float64{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestIndexFacadeOnChunkAddedNoopWhenNotIndexed(t *testing.T) {
	f := NewIndexFacade()
	assert.NoError(t, f.OnChunkAdded("a", []float64{1, 0}))
	assert.Equal(t, 0, f.Len())
}

func TestIndexFacadeDimensionMismatchOnSearch(t *testing.T) {
	f := NewIndexFacade()
	require.NoError(t, f.Materialize(AlgorithmExact, 2, LSHParams{}, samplePairs()))

	_, err := f.Search([]float64{1, 0, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, KindDimensionMismatch, KindOf(err))
}
