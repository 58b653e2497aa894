/**
 * Hierarchical Chunker
 *
 * Splits per-page document text into a two-tier chunk sequence: large
 * non-overlapping parent chunks carrying enough context for coherent answer
 * grounding, and small overlapping child chunks sized for precise embedding
 * similarity. Every child links to exactly one parent; the linkage is
 * validated before the sequence leaves this package.
 */

package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind distinguishes the two chunk tiers
type Kind string

const (
	KindParent Kind = "parent"
	KindChild  Kind = "child"
)

// Chunk is one retrieval unit. GlobalIndex increases monotonically across
// the whole document regardless of page. A parent's ParentID is its own
// identifier, so the field is never empty.
type Chunk struct {
	Text        string
	GlobalIndex int
	PageNumber  int
	Kind        Kind
	ParentID    string
}

// PageText is one page's extracted text
type PageText struct {
	Number int
	Text   string
}

// Config holds the chunk window sizes, in characters
type Config struct {
	ParentSize   int
	ChildSize    int
	ChildOverlap int
}

// DefaultConfig returns the standard window sizes
func DefaultConfig() Config {
	return Config{ParentSize: 800, ChildSize: 300, ChildOverlap: 50}
}

// sentenceSeparators are tried in order when snapping a window boundary
// backward to a sentence end
var sentenceSeparators = []string{". ", ".\n", "! ", "? ", "\n\n"}

// Split chunks the ordered page texts into the two-tier sequence, page by
// page in page order. It fails if the emitted sequence would violate the
// child-to-parent linkage invariant.
func Split(pages []PageText, cfg Config) ([]Chunk, error) {
	if cfg.ParentSize < 1 {
		return nil, fmt.Errorf("parent chunk size must be positive, got %d", cfg.ParentSize)
	}
	if cfg.ChildSize < 1 || cfg.ChildSize > cfg.ParentSize {
		return nil, fmt.Errorf("child chunk size must be in [1, parent size], got %d", cfg.ChildSize)
	}
	if cfg.ChildOverlap < 0 || cfg.ChildOverlap >= cfg.ChildSize {
		return nil, fmt.Errorf("child overlap must be in [0, child size), got %d", cfg.ChildOverlap)
	}

	var chunks []Chunk
	globalIndex := 0
	parentOrdinal := 0
	parentIDs := make(map[string]struct{})

	for _, page := range pages {
		for _, parentText := range windows(page.Text, cfg.ParentSize, 0) {
			// Deterministic identifier from page number and parent ordinal:
			// unique within the document, stable for the index's lifetime.
			parentID := fmt.Sprintf("p%d-%d", page.Number, parentOrdinal)
			parentOrdinal++
			parentIDs[parentID] = struct{}{}

			chunks = append(chunks, Chunk{
				Text:        parentText,
				GlobalIndex: globalIndex,
				PageNumber:  page.Number,
				Kind:        KindParent,
				ParentID:    parentID,
			})
			globalIndex++

			// Child pass: same snapping logic over the parent's text only,
			// with overlap between consecutive windows.
			for _, childText := range windows(parentText, cfg.ChildSize, cfg.ChildOverlap) {
				chunks = append(chunks, Chunk{
					Text:        childText,
					GlobalIndex: globalIndex,
					PageNumber:  page.Number,
					Kind:        KindChild,
					ParentID:    parentID,
				})
				globalIndex++
			}
		}
	}

	for _, c := range chunks {
		if c.Kind == KindChild {
			if _, ok := parentIDs[c.ParentID]; !ok {
				return nil, fmt.Errorf("child chunk %d references unknown parent %q", c.GlobalIndex, c.ParentID)
			}
		}
	}

	return chunks, nil
}

// windows walks text in fixed-size segments, snapping each right edge
// backward to the nearest sentence separator past the window midpoint.
// Snaps that would shrink the segment below half size are rejected and the
// hard cut kept. The next window starts at the previous end minus overlap
// (never before the start of text). Blank segments are skipped.
// Positions and sizes are runes, so a hard cut never splits a multi-byte
// character.
func windows(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var segments []string
	pos := 0
	for pos < len(runes) {
		end := pos + size
		if end > len(runes) {
			end = len(runes)
		} else {
			snippet := string(runes[pos:end])
			for _, sep := range sentenceSeparators {
				last := strings.LastIndex(snippet, sep)
				if last == -1 {
					continue
				}
				// The separators are ASCII, so their byte and rune
				// lengths coincide; the prefix before one need not.
				if cut := utf8.RuneCountInString(snippet[:last]); cut > size/2 {
					end = pos + cut + len(sep)
					break
				}
			}
		}

		if segment := strings.TrimSpace(string(runes[pos:end])); segment != "" {
			segments = append(segments, segment)
		}

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= pos {
			next = pos + 1
		}
		pos = next
	}

	return segments
}

// Parents filters the parent-tier chunks, preserving order
func Parents(chunks []Chunk) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		if c.Kind == KindParent {
			out = append(out, c)
		}
	}
	return out
}

// Children filters the child-tier chunks, preserving order
func Children(chunks []Chunk) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		if c.Kind == KindChild {
			out = append(out, c)
		}
	}
	return out
}
