package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings to cache.
const DefaultCacheSize = 1000

// CachedEmbedder wraps an Embedder with LRU caching so repeated queries
// skip the provider round-trip.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// Compile-time interface check.
var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes text together with the model name, so switching models
// never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if available, otherwise computes
// and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch embeds multiple texts, checking and filling the cache per
// text for maximum reuse.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			c.hits.Add(1)
			results[i] = vec
		} else {
			c.misses.Add(1)
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for i, vec := range vectors {
		idx := uncachedIndices[i]
		results[idx] = vec
		c.cache.Add(c.cacheKey(texts[idx]), vec)
	}

	return results, nil
}

// Stats returns cache hit and miss counts.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Dimensions returns the embedding dimension of the wrapped embedder.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier of the wrapped embedder.
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the wrapped embedder is ready.
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
