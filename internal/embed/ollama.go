package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    Config
	logger    *slog.Logger

	mu     sync.RWMutex
	dims   int // pinned at first successful call
	closed bool
}

// Compile-time interface check.
var _ Embedder = (*OllamaEmbedder)(nil)

// ollamaEmbedRequest is the request body for /api/embed.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the response body for /api/embed.
type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder creates a new Ollama embedder. No connection is made
// until the first call; the embedding dimension is discovered then.
func NewOllamaEmbedder(cfg Config, logger *slog.Logger) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Per-request timeouts come from context.WithTimeout in doEmbedWithRetry;
	// a static client timeout would fight with them.
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}

	return &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		logger:    logger,
	}
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, rkerrors.EmbeddingFailed(fmt.Errorf("no embedding returned"))
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, order preserved.
// Requests are split at the configured batch size; at most one request is
// in flight at a time.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.doEmbedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}

	return results, nil
}

// doEmbedWithRetry performs one batch request with the configured retry
// policy: transient failures (network, 429, 5xx) back off exponentially
// starting at RetryDelay; permanent failures surface immediately.
func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	attempt := 0
	err := withRetry(ctx, e.config.MaxRetries, e.config.RetryDelay, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		v, err := e.doEmbed(callCtx, texts)
		if err != nil {
			e.logger.Debug("embedding attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("texts", len(texts)),
				slog.String("error", err.Error()))
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if rkerrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, rkerrors.EmbeddingFailed(err)
	}

	return vectors, nil
}

// doEmbed performs a single batch embedding request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	url := e.config.Host + "/api/embed"

	// Array input for batches, single string for one text.
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Connection failures and context timeouts are worth retrying.
		return nil, markTransient(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		reqErr := fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, markTransient(reqErr)
		}
		return nil, reqErr
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if err := e.pinDimensions(len(emb)); err != nil {
			return nil, err
		}
		vector := make([]float32, len(emb))
		for j, v := range emb {
			vector[j] = float32(v)
		}
		vectors[i] = normalizeVector(vector)
	}

	return vectors, nil
}

// pinDimensions fixes the embedding dimension on first success and
// rejects any later vector of a different dimension.
func (e *OllamaEmbedder) pinDimensions(got int) error {
	if got == 0 {
		return fmt.Errorf("provider returned an empty embedding")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dims == 0 {
		e.dims = got
		return nil
	}
	if got != e.dims {
		return rkerrors.DimensionMismatch(e.dims, got)
	}
	return nil
}

// Dimensions returns the pinned embedding dimension, or 0 before the
// first successful call.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks if Ollama is reachable and serving the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want := strings.ToLower(e.config.Model)
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == want {
			return true
		}
	}
	return false
}

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}
