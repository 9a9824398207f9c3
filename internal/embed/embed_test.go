package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	// Given a static embedder
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	// When embedding the same text twice
	v1, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	// Then results are identical and unit-normalized
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, StaticDimensions)
	assert.InDelta(t, 1.0, vectorNorm(v1), 1e-5)
}

func TestStaticEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	v1, err := e.Embed(context.Background(), "database replication strategies")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "sourdough bread recipes")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestStaticEmbedder_EmptyText(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	// Whitespace-only input yields a zero vector rather than an error.
	v, err := e.Embed(context.Background(), "   \n\t  ")
	require.NoError(t, err)
	assert.Len(t, v, StaticDimensions)
	assert.InDelta(t, 0.0, vectorNorm(v), 1e-9)
}

func TestStaticEmbedder_Batch(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	texts := []string{"first chunk", "second chunk", "third chunk"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	// Batch results match single-text results, order preserved.
	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, vectors[i], "text %d", i)
	}
}

func TestStaticEmbedder_CJKText(t *testing.T) {
	e := NewStaticEmbedder()
	defer func() { _ = e.Close() }()

	v, err := e.Embed(context.Background(), "知识库检索引擎")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vectorNorm(v), 1e-5)
}

func TestStaticEmbedder_ClosedRejectsCalls(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestWithRetry_TransientRetriesThenSucceeds(t *testing.T) {
	var calls int
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return markTransient(errors.New("connection refused"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentFailsImmediately(t *testing.T) {
	var calls int
	permanent := errors.New("model not found")
	err := withRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return permanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	var calls int
	err := withRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return markTransient(errors.New("timeout"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := withRetry(ctx, 3, time.Millisecond, func(context.Context) error {
		calls++
		return markTransient(errors.New("unreachable"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestOllamaEmbedder_Batch(t *testing.T) {
	// Given a fake Ollama server returning 4-dim embeddings
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var n int
		switch input := req.Input.(type) {
		case string:
			n = 1
		case []any:
			n = len(input)
		}

		resp := ollamaEmbedResponse{Embeddings: make([][]float64, n)}
		for i := range resp.Embeddings {
			resp.Embeddings[i] = []float64{float64(i + 1), 0, 0, 0}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{Host: srv.URL, Model: "test-model", BatchSize: 2}, nil)
	defer func() { _ = e.Close() }()

	// When embedding 5 texts with batch size 2
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	// Then three requests are made and order is preserved
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, int64(3), requests.Load())
	assert.Equal(t, 4, e.Dimensions())
	for _, v := range vectors {
		assert.InDelta(t, 1.0, vectorNorm(v), 1e-5)
	}
}

func TestOllamaEmbedder_DimensionDriftIsFatal(t *testing.T) {
	// Given a server whose embedding dimension changes between calls
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dims := 4
		if calls.Add(1) > 1 {
			dims = 8
		}
		resp := ollamaEmbedResponse{Embeddings: [][]float64{make([]float64, dims)}}
		resp.Embeddings[0][0] = 1
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{Host: srv.URL, Model: "test-model"}, nil)
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)

	// When the dimension drifts
	_, err = e.Embed(context.Background(), "second")

	// Then the error carries the fatal mismatch code
	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeDimensionMismatch))
}

func TestOllamaEmbedder_ServerErrorRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp := ollamaEmbedResponse{Embeddings: [][]float64{{1, 0, 0}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{
		Host:       srv.URL,
		Model:      "test-model",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
	defer func() { _ = e.Close() }()

	v, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.Equal(t, int64(2), calls.Load())
}

func TestOllamaEmbedder_ClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{
		Host:       srv.URL,
		Model:      "missing-model",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, nil)
	defer func() { _ = e.Close() }()

	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeEmbeddingFailed))
	assert.Equal(t, int64(1), calls.Load())
}

func TestOllamaEmbedder_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = fmt.Fprint(w, `{"models":[{"name":"nomic-embed-text:latest"}]}`)
	}))
	defer srv.Close()

	serving := NewOllamaEmbedder(Config{Host: srv.URL, Model: "nomic-embed-text"}, nil)
	defer func() { _ = serving.Close() }()
	assert.True(t, serving.Available(context.Background()))

	missing := NewOllamaEmbedder(Config{Host: srv.URL, Model: "other-model"}, nil)
	defer func() { _ = missing.Close() }()
	assert.False(t, missing.Available(context.Background()))
}

func TestCachedEmbedder_HitsSkipInner(t *testing.T) {
	// Given a counting embedder behind a cache
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)
	defer func() { _ = c.Close() }()

	// When the same text is embedded twice
	v1, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)
	v2, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	// Then the inner embedder ran once and the cache served the second call
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), inner.calls.Load())
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedder_BatchPartialHits(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, 10)
	defer func() { _ = c.Close() }()

	_, err := c.Embed(context.Background(), "b")
	require.NoError(t, err)

	// Only the uncached texts reach the inner embedder.
	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, int64(3), inner.batchTexts.Load()) // 1 single + 2 uncached

	for i, text := range []string{"a", "b", "c"} {
		expected, err := inner.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, expected, vectors[i])
	}
}

// countingEmbedder is a deterministic fake that records call volume.
type countingEmbedder struct {
	calls      atomic.Int64
	batchTexts atomic.Int64
}

func (f *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.batchTexts.Add(1)
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r)
	}
	return normalizeVector(v), nil
}

func (f *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *countingEmbedder) Dimensions() int                { return 4 }
func (f *countingEmbedder) ModelName() string              { return "counting" }
func (f *countingEmbedder) Available(context.Context) bool { return true }
func (f *countingEmbedder) Close() error                   { return nil }

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
