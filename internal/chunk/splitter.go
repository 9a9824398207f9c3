// Package chunk splits source documents into overlapping fragments
// suitable for embedding.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Piece is one split fragment. Start and End are byte offsets into the
// original text, so Text == source[Start:End].
type Piece struct {
	Text  string
	Start int
	End   int
}

// Splitter splits text into pieces bounded by size with the given overlap.
// Implementations must be deterministic for identical inputs.
type Splitter interface {
	Split(text string, size, overlap int) []Piece
}

// RecursiveSplitter splits on the strongest boundary available inside the
// size budget: paragraph break, then line break, then sentence boundary,
// then word boundary, then a hard cut on a rune boundary.
type RecursiveSplitter struct{}

// Compile-time interface check.
var _ Splitter = RecursiveSplitter{}

// sentenceEnders are searched right-to-left for the latest sentence
// boundary inside the window. Both ASCII and CJK forms are recognized.
var sentenceEnders = []string{". ", "! ", "? ", "。", "！", "？"}

// NewRecursiveSplitter creates a splitter with the default boundary rules.
func NewRecursiveSplitter() RecursiveSplitter {
	return RecursiveSplitter{}
}

// Split implements Splitter. Empty or whitespace-only input yields zero
// pieces; whitespace-only fragments are discarded (they carry no content
// worth embedding). Overlap is clamped into [0, size).
func (RecursiveSplitter) Split(text string, size, overlap int) []Piece {
	if size <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	n := len(text)
	var pieces []Piece

	start := 0
	for start < n {
		if n-start <= size {
			appendPiece(&pieces, text, start, n)
			break
		}

		end := findCut(text, start, start+size)
		appendPiece(&pieces, text, start, end)

		next := end - overlap
		if next <= start {
			// Overlap would stall the walk; advance without it.
			next = end
		}
		// Never begin a piece in the middle of a UTF-8 sequence.
		for next < n && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}

	return pieces
}

// appendPiece records text[start:end] unless it is whitespace-only.
func appendPiece(pieces *[]Piece, text string, start, end int) {
	fragment := text[start:end]
	if strings.TrimSpace(fragment) == "" {
		return
	}
	*pieces = append(*pieces, Piece{Text: fragment, Start: start, End: end})
}

// findCut returns the end offset for a piece beginning at start, with limit
// as the hard byte budget (start < limit < len(text)). Boundaries are
// searched right-to-left so the piece is as full as the budget allows.
func findCut(text string, start, limit int) int {
	window := text[start:limit]

	// Paragraph break: cut after the blank line.
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return start + idx + 2
	}

	// Line break: cut after the newline.
	if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
		return start + idx + 1
	}

	// Sentence boundary: cut after the latest sentence ender.
	best := -1
	for _, ender := range sentenceEnders {
		if idx := strings.LastIndex(window, ender); idx > 0 && idx+len(ender) > best {
			best = idx + len(ender)
		}
	}
	if best > 0 {
		return start + best
	}

	// Word boundary: cut after the last space.
	if idx := strings.LastIndexByte(window, ' '); idx > 0 {
		return start + idx + 1
	}

	// Hard cut, backed up to a rune boundary.
	cut := limit
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == start {
		cut = limit
	}
	return cut
}
