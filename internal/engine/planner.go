package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/index"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// Citation strings are frozen: downstream prompts depend on this exact
// wording and layout.
const (
	citationFormat = "\n引用 %d (知识库: %s, 相关度: %.1f%%):\n%s\n"

	// excerptRunes bounds reference excerpts in metadata.
	excerptRunes = 80
)

// QueryOptions tunes a single query.
type QueryOptions struct {
	// Mode overrides the engine mode for this query. Empty uses the
	// engine's current mode.
	Mode state.Mode
}

// Match is one retrieved chunk.
type Match struct {
	Content string
	Score   float64
	KBName  string
}

// Reference summarizes a match for metadata consumers.
type Reference struct {
	ID      int
	Score   float64
	KB      string
	Excerpt string
}

// Metadata describes how a result was assembled.
type Metadata struct {
	MatchCount int
	// KBSingle names the queried knowledge base in single mode.
	KBSingle string
	// KBMulti lists the queried knowledge bases in multi mode.
	KBMulti    []string
	References []Reference
}

// Result is a completed retrieval.
type Result struct {
	// Context is the formatted citation block handed to the LLM prompt.
	Context string
	// Documents holds the matches in the order used to build Context.
	Documents []Match
	Metadata  Metadata
}

// hit pairs an index hit with its knowledge base.
type hit struct {
	kbName string
	chunk  index.Chunk
	score  float64
}

// snapshot is one knowledge base captured under the mutex at query
// start. Indexes are immutable after publication, so searching them
// after release is safe.
type snapshot struct {
	name string
	idx  index.Searcher
}

// Query retrieves the chunks most relevant to text and assembles the
// context block. The effective mode is opts.Mode when set, otherwise
// the engine's current mode.
func (e *Engine) Query(ctx context.Context, text string, opts QueryOptions) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, rkerrors.InvalidArgument("query text is empty")
	}
	if opts.Mode != "" && !opts.Mode.Valid() {
		return nil, rkerrors.InvalidArgument(fmt.Sprintf("unknown mode %q", opts.Mode))
	}

	// Snapshot everything the query needs in one critical section, before
	// any embedder call: a disabled engine must reject without touching
	// the provider.
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil, rkerrors.New(rkerrors.ErrCodeDisabled, "retrieval is disabled", nil)
	}

	mode := e.mode
	if opts.Mode != "" {
		mode = opts.Mode
	}

	var targets []snapshot
	switch mode {
	case state.ModeSingle:
		active, ok := e.registry.Active()
		if !ok {
			e.mu.Unlock()
			return nil, rkerrors.New(rkerrors.ErrCodeNoActiveKB, "no active knowledge base", nil)
		}
		targets = []snapshot{{name: active.Name, idx: active.Index}}
	case state.ModeMulti:
		for _, entry := range e.registry.List() {
			k, _ := e.registry.Get(entry.Name)
			targets = append(targets, snapshot{name: k.Name, idx: k.Index})
		}
		if len(targets) == 0 {
			e.mu.Unlock()
			return nil, rkerrors.New(rkerrors.ErrCodeNoKBLoaded, "no knowledge bases loaded", nil)
		}
	}
	e.mu.Unlock()

	queryVec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, rkerrors.Cancelled(err)
		}
		return nil, err
	}

	var hits []hit
	if mode == state.ModeSingle {
		hits = e.searchOne(targets[0], queryVec)
	} else {
		hits, err = e.searchAll(ctx, targets, queryVec)
		if err != nil {
			return nil, err
		}
	}

	hits = e.rankAndTruncate(hits, mode)
	if len(hits) == 0 {
		return nil, rkerrors.New(rkerrors.ErrCodeNoRelevantContent,
			fmt.Sprintf("no content scored at or above %.2f", e.cfg.Retrieval.MinRelevanceScore), nil)
	}

	return e.assemble(hits, mode, targets), nil
}

// searchOne queries a single knowledge base. A panicking index is
// treated as empty, matching the multi-KB isolation rule.
func (e *Engine) searchOne(target snapshot, queryVec []float32) []hit {
	var out []hit
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("knowledge base search failed",
					slog.String("kb", target.name),
					slog.Any("panic", r))
				out = nil
			}
		}()
		for _, h := range target.idx.TopK(queryVec, e.cfg.Retrieval.MaxRetrievedDocs) {
			c, ok := target.idx.Chunk(h.ChunkID)
			if !ok {
				continue
			}
			out = append(out, hit{kbName: target.name, chunk: c, score: h.Score})
		}
	}()
	return out
}

// searchAll fans out across all snapshotted knowledge bases in parallel.
// One failing knowledge base contributes nothing; only cancellation
// fails the whole query.
func (e *Engine) searchAll(ctx context.Context, targets []snapshot, queryVec []float32) ([]hit, error) {
	perKB := make([][]hit, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perKB[i] = e.searchOne(target, queryVec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, rkerrors.Cancelled(err)
	}

	var all []hit
	for _, hs := range perKB {
		all = append(all, hs...)
	}
	return all, nil
}

// rankAndTruncate drops matches below the relevance threshold, orders
// the rest, and caps the result length. Ordering is descending score;
// ties break toward the lexicographically smaller knowledge base name,
// then the smaller chunk ID.
func (e *Engine) rankAndTruncate(hits []hit, mode state.Mode) []hit {
	kept := hits[:0]
	for _, h := range hits {
		if h.score >= e.cfg.Retrieval.MinRelevanceScore {
			kept = append(kept, h)
		}
	}

	if mode == state.ModeMulti {
		sort.Slice(kept, func(i, j int) bool {
			if kept[i].score != kept[j].score {
				return kept[i].score > kept[j].score
			}
			if kept[i].kbName != kept[j].kbName {
				return kept[i].kbName < kept[j].kbName
			}
			return kept[i].chunk.ID < kept[j].chunk.ID
		})
	}

	if len(kept) > e.cfg.Retrieval.MaxRetrievedDocs {
		kept = kept[:e.cfg.Retrieval.MaxRetrievedDocs]
	}
	return kept
}

// assemble builds the citation block and metadata from ordered hits.
func (e *Engine) assemble(hits []hit, mode state.Mode, targets []snapshot) *Result {
	var b strings.Builder
	docs := make([]Match, 0, len(hits))
	refs := make([]Reference, 0, len(hits))

	for i, h := range hits {
		fmt.Fprintf(&b, citationFormat, i+1, h.kbName, h.score*100, h.chunk.Content)
		docs = append(docs, Match{Content: h.chunk.Content, Score: h.score, KBName: h.kbName})
		refs = append(refs, Reference{
			ID:      h.chunk.ID,
			Score:   h.score,
			KB:      h.kbName,
			Excerpt: excerpt(h.chunk.Content),
		})
	}

	md := Metadata{MatchCount: len(hits), References: refs}
	if mode == state.ModeSingle {
		md.KBSingle = targets[0].name
	} else {
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.name
		}
		md.KBMulti = names
	}

	return &Result{Context: b.String(), Documents: docs, Metadata: md}
}

// excerpt bounds content for metadata references.
func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content
	}
	return string(runes[:excerptRunes]) + "…"
}
