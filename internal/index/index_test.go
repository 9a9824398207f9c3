package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func TestAppend_PinsDimension(t *testing.T) {
	ix := New()

	require.NoError(t, ix.Append(Chunk{ID: 0, Embedding: []float32{1, 0, 0}}))
	assert.Equal(t, 3, ix.Dimensions())

	err := ix.Append(Chunk{ID: 1, Embedding: []float32{1, 0}})
	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeDimensionMismatch))
}

func TestAppend_RejectsEmptyEmbedding(t *testing.T) {
	ix := New()
	assert.Error(t, ix.Append(Chunk{ID: 0}))
}

func TestTopK_EmptyIndexReturnsNoHits(t *testing.T) {
	ix := New()
	assert.Empty(t, ix.TopK([]float32{1, 0}, 5))
}

func TestTopK_OrdersByScoreDescending(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Append(Chunk{ID: 0, Embedding: []float32{0, 1, 0}}))
	require.NoError(t, ix.Append(Chunk{ID: 1, Embedding: []float32{1, 0, 0}}))
	require.NoError(t, ix.Append(Chunk{ID: 2, Embedding: []float32{0.9, 0.1, 0}}))

	hits := ix.TopK([]float32{1, 0, 0}, 2)

	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].ChunkID)
	assert.Equal(t, 2, hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestTopK_NormalizedScoreConvention(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Append(Chunk{ID: 0, Embedding: []float32{1, 0}}))

	// Identical vector: cos = 1, normalized score = 1.
	hits := ix.TopK([]float32{1, 0}, 1)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	// Orthogonal: cos = 0, normalized score = 0.5.
	hits = ix.TopK([]float32{0, 1}, 1)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.5, hits[0].Score, 1e-6)

	// Opposite: cos = -1, normalized score = 0.
	hits = ix.TopK([]float32{-1, 0}, 1)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.0, hits[0].Score, 1e-6)
}

func TestTopK_TieBreaksOnSmallerChunkID(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Append(Chunk{ID: 7, Embedding: []float32{1, 0}}))
	require.NoError(t, ix.Append(Chunk{ID: 3, Embedding: []float32{1, 0}}))

	hits := ix.TopK([]float32{1, 0}, 2)

	require.Len(t, hits, 2)
	assert.Equal(t, 3, hits[0].ChunkID)
	assert.Equal(t, 7, hits[1].ChunkID)
}

func TestTopK_ClampsKToChunkCount(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Append(Chunk{ID: 0, Embedding: []float32{1, 0}}))

	hits := ix.TopK([]float32{1, 0}, 50)
	assert.Len(t, hits, 1)
}

func TestTopK_NormalizesUnnormalizedInput(t *testing.T) {
	ix := New()
	// Stored vector is scaled; Append normalizes it.
	require.NoError(t, ix.Append(Chunk{ID: 0, Embedding: []float32{10, 0}}))

	// Query is scaled too; TopK normalizes it.
	hits := ix.TopK([]float32{3, 0}, 1)

	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestChunk_LookupByID(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Append(Chunk{ID: 4, Content: "hello", Embedding: []float32{1, 0}}))

	c, ok := ix.Chunk(4)
	require.True(t, ok)
	assert.Equal(t, "hello", c.Content)

	_, ok = ix.Chunk(99)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)

	// Zero vectors pass through unchanged.
	z := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, z)
}
