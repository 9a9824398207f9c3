// Package config provides configuration loading for ragkb.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. Config file (ragkb.yaml in the working directory, or --config path)
//  3. RAGKB_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the engine configuration.
const (
	DefaultChunkSize         = 1000
	DefaultChunkOverlap      = 200
	DefaultMaxRetrievedDocs  = 5
	DefaultMinRelevanceScore = 0.7
	DefaultMaxRetries        = 3
	DefaultRetryDelayMS      = 5000
	DefaultEmbedTimeoutMS    = 60000
	DefaultBatchSize         = 512
	DefaultCacheSize         = 1000
	DefaultWatchDebounceMS   = 500
)

// Config represents the complete ragkb configuration.
type Config struct {
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Registry   RegistryConfig   `yaml:"registry" json:"registry"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// RetrievalConfig configures query-time behavior.
type RetrievalConfig struct {
	// MaxRetrievedDocs is k for top-k and the upper bound on result length.
	MaxRetrievedDocs int `yaml:"max_retrieved_docs" json:"max_retrieved_docs"`

	// MinRelevanceScore drops matches scoring strictly below it. Range [0,1].
	// Scores are normalized cosine similarity: (1+cos)/2.
	MinRelevanceScore float64 `yaml:"min_relevance_score" json:"min_relevance_score"`
}

// ChunkingConfig configures the text splitter.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama" (default) or "static".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name for the ollama provider.
	Model string `yaml:"model" json:"model"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// BatchSize is the maximum texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxRetries is the number of retries on transient failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelayMS is the initial back-off delay, doubled each attempt.
	RetryDelayMS int `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	// TimeoutMS is the per-call embedder timeout.
	TimeoutMS int `yaml:"embed_timeout_ms" json:"embed_timeout_ms"`
	// CacheSize is the LRU size for cached query embeddings. 0 disables.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// PathsConfig configures filesystem locations.
type PathsConfig struct {
	// KBDir is the system knowledge-base directory scanned for .txt files.
	KBDir string `yaml:"kb_dir" json:"kb_dir"`
	// StatePath is the persisted engine state file.
	StatePath string `yaml:"state_path" json:"state_path"`
}

// RegistryConfig configures knowledge-base registry policy.
type RegistryConfig struct {
	// AllowSystemRemove permits removing system knowledge bases.
	// A removed system entry may reappear after a directory re-scan.
	AllowSystemRemove bool `yaml:"allow_system_remove" json:"allow_system_remove"`
}

// WatcherConfig configures the optional kb_dir live watcher.
type WatcherConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	DebounceMS int  `yaml:"debounce_ms" json:"debounce_ms"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// New returns a Config populated with defaults.
// KBDir and StatePath are relative to the current working directory.
func New() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Config{
		Retrieval: RetrievalConfig{
			MaxRetrievedDocs:  DefaultMaxRetrievedDocs,
			MinRelevanceScore: DefaultMinRelevanceScore,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "ollama",
			Model:        "nomic-embed-text",
			OllamaHost:   "http://localhost:11434",
			BatchSize:    DefaultBatchSize,
			MaxRetries:   DefaultMaxRetries,
			RetryDelayMS: DefaultRetryDelayMS,
			TimeoutMS:    DefaultEmbedTimeoutMS,
			CacheSize:    DefaultCacheSize,
		},
		Paths: PathsConfig{
			KBDir:     filepath.Join(cwd, "docs"),
			StatePath: filepath.Join(cwd, "rag-state.json"),
		},
		Registry: RegistryConfig{
			AllowSystemRemove: true,
		},
		Watcher: WatcherConfig{
			Enabled:    false,
			DebounceMS: DefaultWatchDebounceMS,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or ./ragkb.yaml when path is empty, silently skipped if absent),
// then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := New()

	explicit := path != ""
	if path == "" {
		path = "ragkb.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Optional default file; defaults apply.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies RAGKB_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("RAGKB_KB_DIR"); v != "" {
		c.Paths.KBDir = v
	}
	if v := os.Getenv("RAGKB_STATE_PATH"); v != "" {
		c.Paths.StatePath = v
	}
	if v := os.Getenv("RAGKB_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RAGKB_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RAGKB_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RAGKB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAGKB_MIN_RELEVANCE_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.MinRelevanceScore = f
		}
	}
	if v := os.Getenv("RAGKB_MAX_RETRIEVED_DOCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.MaxRetrievedDocs = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk_overlap must satisfy 0 <= overlap < chunk_size, got %d (size %d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Retrieval.MaxRetrievedDocs <= 0 {
		return fmt.Errorf("max_retrieved_docs must be positive, got %d", c.Retrieval.MaxRetrievedDocs)
	}
	if c.Retrieval.MinRelevanceScore < 0 || c.Retrieval.MinRelevanceScore > 1 {
		return fmt.Errorf("min_relevance_score must be in [0,1], got %g", c.Retrieval.MinRelevanceScore)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.Embeddings.MaxRetries)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q (supported: ollama, static)", c.Embeddings.Provider)
	}
	return nil
}

// RetryDelay returns the initial embedder retry back-off.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Embeddings.RetryDelayMS) * time.Millisecond
}

// EmbedTimeout returns the per-call embedder timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Embeddings.TimeoutMS) * time.Millisecond
}

// WatchDebounce returns the watcher debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Watcher.DebounceMS) * time.Millisecond
}
