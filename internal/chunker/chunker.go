package chunker

import (
	"fmt"

	"corpus/internal/domain"
)

// Config selects and tunes a chunking strategy.
type Config struct {
	Type         string   `yaml:"type"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap *int     `yaml:"chunk_overlap"`
	Separators   []string `yaml:"separators"`
	MaxChunkSize int      `yaml:"max_chunk_size"`
	// IncludeHeaders defaults to true when unset.
	IncludeHeaders *bool `yaml:"include_headers"`
}

// New builds the chunker named by cfg.Type. An empty type selects the
// recursive strategy.
func New(cfg Config) (domain.Chunker, error) {
	switch cfg.Type {
	case "", "recursive":
		opts := []RecursiveOption{WithChunkSize(cfg.ChunkSize), WithSeparators(cfg.Separators)}
		if cfg.ChunkOverlap != nil {
			opts = append(opts, WithChunkOverlap(*cfg.ChunkOverlap))
		}
		return NewRecursive(opts...), nil
	case "markdown":
		opts := []MarkdownOption{WithMaxChunkSize(cfg.MaxChunkSize)}
		if cfg.IncludeHeaders != nil {
			opts = append(opts, WithIncludeHeaders(*cfg.IncludeHeaders))
		}
		return NewMarkdown(opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown chunker type %q", domain.ErrInvalidConfig, cfg.Type)
	}
}
