// Package index provides the in-memory vector index for one knowledge base.
//
// Chunks are stored with unit-normalized embeddings, so the dot product of
// a normalized query against a stored vector is the cosine similarity.
// Scores are reported in normalized form: (1 + cos) / 2, giving [0,1].
// A linear scan serves the corpus sizes this engine targets (tens of
// thousands of chunks); no ANN structure is used.
package index

import (
	"math"
	"sort"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Chunk is an immutable retrievable unit: a bounded fragment of source
// text carrying its embedding. IDs are assigned sequentially during
// ingestion and are unique within one knowledge base.
type Chunk struct {
	ID        int
	Content   string
	Embedding []float32
	// Byte range of the fragment in the origin document.
	StartOffset int
	EndOffset   int
}

// Hit is a single similarity result.
type Hit struct {
	ChunkID int
	Score   float64
}

// Searcher is the query-side capability of a vector index.
// TopK never fails on an empty index: it returns no hits.
type Searcher interface {
	TopK(query []float32, k int) []Hit
	Chunk(id int) (Chunk, bool)
	Len() int
}

// Index is an append-only-then-immutable sequence of chunks for one KB.
// All embeddings share the dimension fixed by the first appended chunk.
// After publication into the registry the index is never mutated, so
// concurrent readers need no synchronization.
type Index struct {
	chunks []Chunk
	dims   int
}

// Compile-time interface check.
var _ Searcher = (*Index)(nil)

// New creates an empty index.
func New() *Index {
	return &Index{}
}

// Append adds a chunk during ingestion. The embedding is unit-normalized
// in place. The first append pins the index dimension; a later chunk with
// a different dimension is a fatal ingestion error.
func (ix *Index) Append(c Chunk) error {
	if len(c.Embedding) == 0 {
		return rkerrors.New(rkerrors.ErrCodeInvalidArgument, "chunk embedding is empty", nil)
	}
	if ix.dims == 0 {
		ix.dims = len(c.Embedding)
	} else if len(c.Embedding) != ix.dims {
		return rkerrors.DimensionMismatch(ix.dims, len(c.Embedding))
	}

	c.Embedding = Normalize(c.Embedding)
	ix.chunks = append(ix.chunks, c)
	return nil
}

// Len returns the number of chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Dimensions returns the embedding dimension, or 0 for an empty index.
func (ix *Index) Dimensions() int {
	return ix.dims
}

// Chunk returns the chunk with the given ID.
func (ix *Index) Chunk(id int) (Chunk, bool) {
	for _, c := range ix.chunks {
		if c.ID == id {
			return c, true
		}
	}
	return Chunk{}, false
}

// TopK returns the k most similar chunks to the query vector, highest
// score first. Equal scores break ties toward the smaller chunk ID.
// k is clamped to the chunk count; an empty index yields no hits.
func (ix *Index) TopK(query []float32, k int) []Hit {
	if len(ix.chunks) == 0 || k <= 0 {
		return nil
	}
	if k > len(ix.chunks) {
		k = len(ix.chunks)
	}

	q := Normalize(query)

	hits := make([]Hit, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		hits = append(hits, Hit{ChunkID: c.ID, Score: normalizedCosine(q, c.Embedding)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	return hits[:k]
}

// normalizedCosine computes (1 + a·b) / 2 for unit vectors a and b,
// clamped into [0,1] against float drift.
func normalizedCosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}

	score := (1 + dot) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Normalize returns a unit-length copy of v. Zero vectors are returned
// unchanged (their similarity against anything scores 0.5, the midpoint).
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
