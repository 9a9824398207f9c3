package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/config"
	"github.com/Aman-CERP/ragkb/internal/embed"
	"github.com/Aman-CERP/ragkb/internal/engine"
	"github.com/Aman-CERP/ragkb/internal/event"
	"github.com/Aman-CERP/ragkb/internal/kb"
	"github.com/Aman-CERP/ragkb/internal/logging"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// app is the composition root: every service is constructed once here
// and injected into its consumers.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *engine.Engine
	bus      *event.Bus
	embedder embed.Embedder

	logCleanup func()
}

// newApp builds the full service graph from configuration. The caller
// owns the returned app and must Close it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		logCleanup()
		return nil, err
	}

	builder := kb.NewBuilder(chunk.NewRecursiveSplitter(), embedder,
		cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap, logger)
	store := state.NewStore(cfg.Paths.StatePath, logger)
	bus := event.NewBus(logger)

	eng := engine.New(cfg, builder, embedder, store, bus, logger)
	if err := eng.Start(ctx); err != nil {
		logger.Warn("startup system scan failed", slog.String("error", err.Error()))
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		engine:     eng,
		bus:        bus,
		embedder:   embedder,
		logCleanup: logCleanup,
	}, nil
}

// buildEmbedder constructs the configured embedding provider, wrapped
// in an LRU cache when one is configured.
func buildEmbedder(cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	var inner embed.Embedder
	switch cfg.Embeddings.Provider {
	case "static":
		inner = embed.NewStaticEmbedder()
	case "ollama":
		inner = embed.NewOllamaEmbedder(embed.Config{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			BatchSize:  cfg.Embeddings.BatchSize,
			MaxRetries: cfg.Embeddings.MaxRetries,
			RetryDelay: cfg.RetryDelay(),
			Timeout:    cfg.EmbedTimeout(),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}

	if cfg.Embeddings.CacheSize > 0 {
		return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
	}
	return inner, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
}
