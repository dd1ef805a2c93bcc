package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"corpus/internal/domain"
)

// DefaultMaxChunkSize is the section size above which the markdown chunker
// splits a section by paragraphs.
const DefaultMaxChunkSize = 800

var (
	headerPattern    = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+)$`)
	paragraphPattern = regexp.MustCompile(`\n\n+`)
)

var _ domain.Chunker = (*Markdown)(nil)

// Markdown splits text into sections at ATX headers.
type Markdown struct {
	maxChunkSize   int
	includeHeaders bool
}

// MarkdownOption configures the markdown chunker.
type MarkdownOption func(*Markdown)

// WithMaxChunkSize sets the section size above which sections are split.
func WithMaxChunkSize(size int) MarkdownOption {
	return func(m *Markdown) {
		if size > 0 {
			m.maxChunkSize = size
		}
	}
}

// WithIncludeHeaders controls whether the section header is prepended to chunk text.
func WithIncludeHeaders(include bool) MarkdownOption {
	return func(m *Markdown) { m.includeHeaders = include }
}

// NewMarkdown creates a markdown chunker.
func NewMarkdown(opts ...MarkdownOption) *Markdown {
	m := &Markdown{
		maxChunkSize:   DefaultMaxChunkSize,
		includeHeaders: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Strategy returns the strategy name.
func (m *Markdown) Strategy() string { return "markdown" }

type section struct {
	header  string
	level   int
	content string
}

// Chunk splits text into header-delimited chunks.
func (m *Markdown) Chunk(text string, metadata domain.ChunkMetadata) []domain.Chunk {
	var chunks []domain.Chunk
	add := func(s section, body string) {
		meta := metadata
		meta.ChunkIndex = len(chunks)
		meta.Header = s.header
		meta.HeaderLevel = s.level
		chunks = append(chunks, domain.Chunk{
			ID:       uuid.New().String(),
			Text:     m.format(s, body),
			Index:    len(chunks),
			Metadata: meta,
		})
	}

	for _, s := range splitSections(text) {
		if s.content == "" {
			continue
		}
		if runeLen(s.content) <= m.maxChunkSize {
			add(s, s.content)
			continue
		}
		for _, body := range m.packParagraphs(s.content) {
			add(s, body)
		}
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}
	return chunks
}

// packParagraphs greedily joins paragraphs while the result stays within
// maxChunkSize. A paragraph longer than maxChunkSize is kept whole.
func (m *Markdown) packParagraphs(content string) []string {
	var out []string
	var current string
	for _, p := range paragraphPattern.Split(content, -1) {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if current != "" && runeLen(current)+runeLen(p)+2 > m.maxChunkSize {
			out = append(out, current)
			current = ""
		}
		if current == "" {
			current = p
		} else {
			current += "\n\n" + p
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func (m *Markdown) format(s section, body string) string {
	if !m.includeHeaders || s.header == "" {
		return body
	}
	return strings.Repeat("#", s.level) + " " + s.header + "\n\n" + body
}

// splitSections cuts text at every header line. Text before the first header
// becomes a level 0 section without a header.
func splitSections(text string) []section {
	matches := headerPattern.FindAllStringSubmatchIndex(text, -1)

	var sections []section
	prev := section{}
	start := 0
	for _, loc := range matches {
		prev.content = strings.TrimSpace(text[start:loc[0]])
		sections = append(sections, prev)
		prev = section{
			level:  loc[3] - loc[2],
			header: strings.TrimSpace(text[loc[4]:loc[5]]),
		}
		start = loc[1]
	}
	prev.content = strings.TrimSpace(text[start:])
	return append(sections, prev)
}
