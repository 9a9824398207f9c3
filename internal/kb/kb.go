// Package kb defines knowledge bases, their ingestion, and the registry
// that tracks which ones are loaded.
package kb

import (
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/ragkb/internal/index"
)

// Origin distinguishes how a knowledge base entered the registry.
type Origin string

const (
	// OriginSystem marks a knowledge base discovered by the directory scan.
	OriginSystem Origin = "SYSTEM"
	// OriginUser marks a knowledge base added explicitly by the caller.
	OriginUser Origin = "USER"
)

// KnowledgeBase is a named, immutable corpus of embedded chunks. Once
// published into the registry neither the entry nor its index changes;
// updates replace the whole entry.
type KnowledgeBase struct {
	Name       string
	SourcePath string
	Origin     Origin
	Index      index.Searcher
}

// ChunkCount returns the number of indexed chunks.
func (k *KnowledgeBase) ChunkCount() int {
	if k.Index == nil {
		return 0
	}
	return k.Index.Len()
}

// NameFromPath derives the knowledge base name from a source file path:
// the base name without its extension.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
