// Package embed provides embedding generation for text chunks and queries.
//
// The engine consumes a single capability: turn a batch of texts into
// fixed-dimension vectors, order preserved. Vectors are unit-normalized
// before they are returned. The dimension is pinned at the first
// successful call; any later response with a different dimension is a
// fatal error.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the maximum texts per embedding request.
	DefaultBatchSize = 512

	// DefaultTimeout is the per-call timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retries on transient failures.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the initial back-off delay, doubled each attempt.
	DefaultRetryDelay = 5 * time.Second

	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "nomic-embed-text"
)

// StaticDimensions is the embedding dimension for the static embedder.
const StaticDimensions = 256

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, order preserved.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, or 0 if not yet known.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Config configures an embedder.
type Config struct {
	// Host is the provider endpoint (ollama provider only).
	Host string
	// Model is the embedding model name.
	Model string
	// BatchSize is the maximum request size.
	BatchSize int
	// MaxRetries is the number of retries on transient failures.
	MaxRetries int
	// RetryDelay is the initial back-off, doubled each attempt.
	RetryDelay time.Duration
	// Timeout is the per-call timeout.
	Timeout time.Duration
}

// DefaultConfig returns sensible embedder defaults.
func DefaultConfig() Config {
	return Config{
		Host:       DefaultOllamaHost,
		Model:      DefaultOllamaModel,
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Timeout:    DefaultTimeout,
	}
}

// normalizeVector scales v to unit length in place and returns it.
// Zero vectors are returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}
