// Package chunker splits document text into bounded, overlapping chunks.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"corpus/internal/domain"
)

// Defaults for the recursive strategy.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// DefaultSeparators are tried in order, most specific first. The empty
// separator splits into single characters and always terminates recursion.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

var _ domain.Chunker = (*Recursive)(nil)

// Recursive splits text on a hierarchy of separators and packs the pieces
// greedily into chunks of at most chunkSize characters.
type Recursive struct {
	chunkSize  int
	overlap    int
	separators []string
}

// RecursiveOption configures the recursive chunker.
type RecursiveOption func(*Recursive)

// WithChunkSize sets the target maximum chunk size in characters.
func WithChunkSize(size int) RecursiveOption {
	return func(r *Recursive) {
		if size > 0 {
			r.chunkSize = size
		}
	}
}

// WithChunkOverlap sets how many trailing characters of a chunk are copied
// into the next one. Zero disables overlap.
func WithChunkOverlap(overlap int) RecursiveOption {
	return func(r *Recursive) {
		if overlap >= 0 {
			r.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator hierarchy.
func WithSeparators(separators []string) RecursiveOption {
	return func(r *Recursive) {
		if len(separators) > 0 {
			r.separators = append([]string(nil), separators...)
		}
	}
}

// NewRecursive creates a recursive chunker.
func NewRecursive(opts ...RecursiveOption) *Recursive {
	r := &Recursive{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.overlap >= r.chunkSize {
		r.overlap = r.chunkSize / 4
	}
	return r
}

// Strategy returns the strategy name.
func (r *Recursive) Strategy() string { return "recursive" }

// Chunk splits text into chunks carrying the given metadata.
func (r *Recursive) Chunk(text string, metadata domain.ChunkMetadata) []domain.Chunk {
	var texts []string
	if runeLen(text) <= r.chunkSize {
		texts = []string{text}
	} else {
		texts = r.split(text, r.separators)
	}

	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}

	chunks := make([]domain.Chunk, len(parts))
	for i, part := range parts {
		meta := metadata
		meta.ChunkIndex = i
		meta.TotalChunks = len(parts)
		chunks[i] = domain.Chunk{
			ID:       uuid.New().String(),
			Text:     part,
			Index:    i,
			Metadata: meta,
		}
	}
	return chunks
}

func (r *Recursive) split(text string, separators []string) []string {
	separator, rest := pickSeparator(text, separators)

	var splits []string
	if separator == "" {
		splits = strings.Split(text, "")
	} else {
		splits = strings.Split(text, separator)
	}

	var out []string
	var current strings.Builder
	currentLen := 0

	for i, s := range splits {
		piece := s
		if i < len(splits)-1 {
			piece += separator
		}
		pieceLen := runeLen(piece)

		if currentLen+pieceLen <= r.chunkSize {
			current.WriteString(piece)
			currentLen += pieceLen
			continue
		}

		if currentLen > 0 {
			out = append(out, current.String())
		}
		current.Reset()
		currentLen = 0

		if pieceLen > r.chunkSize && len(rest) > 0 {
			out = append(out, r.split(piece, rest)...)
			continue
		}

		var prev string
		if len(out) > 0 {
			prev = out[len(out)-1]
		}
		seed := r.overlapOf(prev, min(r.overlap, r.chunkSize-pieceLen))
		current.WriteString(seed)
		current.WriteString(piece)
		currentLen = runeLen(seed) + pieceLen
	}

	if currentLen > 0 {
		out = append(out, current.String())
	}
	return out
}

// overlapOf returns at most limit trailing characters of prev, shortened so
// that it starts on a word boundary.
func (r *Recursive) overlapOf(prev string, limit int) string {
	if limit <= 0 || prev == "" {
		return ""
	}
	runes := []rune(prev)
	if len(runes) <= limit {
		return prev
	}
	start := len(runes) - limit
	if unicode.IsSpace(runes[start-1]) {
		return string(runes[start:])
	}
	for i := start; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			return string(runes[i+1:])
		}
	}
	return ""
}

// pickSeparator returns the first separator present in text and the
// less specific separators that follow it.
func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
