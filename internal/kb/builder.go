package kb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"unicode/utf8"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/embed"
	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/index"
)

// Builder ingests a source file into a ready knowledge base: read, split,
// embed, index. Building happens entirely outside the registry; the
// caller publishes the result once it is complete.
type Builder struct {
	splitter chunk.Splitter
	embedder embed.Embedder
	logger   *slog.Logger

	chunkSize    int
	chunkOverlap int
}

// NewBuilder creates a builder with the given splitter settings.
func NewBuilder(splitter chunk.Splitter, embedder embed.Embedder, chunkSize, chunkOverlap int, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		splitter:     splitter,
		embedder:     embedder,
		logger:       logger,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Build ingests the file at path as a knowledge base with the given
// origin. The name is derived from the file name. Embedding goes through
// the embedder's own batching, so one Build keeps at most one request in
// flight.
func (b *Builder) Build(ctx context.Context, path string, origin Origin) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rkerrors.IOError(fmt.Sprintf("failed to read %s", path), err)
	}
	if !utf8.Valid(data) {
		return nil, rkerrors.InvalidArgument(fmt.Sprintf("%s is not valid UTF-8 text", path))
	}

	return b.BuildFromText(ctx, NameFromPath(path), path, string(data), origin)
}

// BuildFromText ingests already-loaded text under an explicit name.
func (b *Builder) BuildFromText(ctx context.Context, name, path, text string, origin Origin) (*KnowledgeBase, error) {
	if name == "" {
		return nil, rkerrors.InvalidArgument("knowledge base name is empty")
	}

	pieces := b.splitter.Split(text, b.chunkSize, b.chunkOverlap)

	ix := index.New()
	if len(pieces) > 0 {
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.Text
		}

		vectors, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(pieces) {
			return nil, rkerrors.EmbeddingFailed(
				fmt.Errorf("expected %d embeddings, got %d", len(pieces), len(vectors)))
		}

		for i, p := range pieces {
			err := ix.Append(index.Chunk{
				ID:          i,
				Content:     p.Text,
				Embedding:   vectors[i],
				StartOffset: p.Start,
				EndOffset:   p.End,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	b.logger.Debug("knowledge base built",
		slog.String("name", name),
		slog.String("origin", string(origin)),
		slog.Int("chunks", ix.Len()))

	return &KnowledgeBase{
		Name:       name,
		SourcePath: path,
		Origin:     origin,
		Index:      ix,
	}, nil
}
