package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *AppConfig) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Embedder
	switch c.Embedder.Type {
	case "openai":
		o := c.Embedder.OpenAI
		if o == nil || o.BaseURL == "" {
			add("embedder.openai.base_url", "base URL is required")
		} else if !validURL(o.BaseURL) {
			add("embedder.openai.base_url", "invalid URL %q", o.BaseURL)
		}
		if o != nil && (o.BatchSize < 1 || o.BatchSize > 100) {
			add("embedder.openai.batch_size", "batch_size must be between 1 and 100")
		}
	case "ollama":
		if o := c.Embedder.Ollama; o == nil || o.Dimensions < 1 {
			add("embedder.ollama.dimensions", "dimensions must be positive")
		}
	case "hashing", "":
	default:
		add("embedder.type", "unknown embedder %q", c.Embedder.Type)
	}

	// Vector store
	switch c.VectorStore.Type {
	case "qdrant":
		if q := c.VectorStore.Qdrant; q == nil || !validURL(q.URL) {
			add("vector_store.qdrant.url", "a valid Qdrant URL is required")
		}
	case "pgvector":
		if p := c.VectorStore.PGVector; p == nil || p.URL == "" {
			add("vector_store.pgvector.url", "connection string is required")
		}
	case "memory", "":
	default:
		add("vector_store.type", "unknown vector store %q", c.VectorStore.Type)
	}

	// LLM
	switch c.LLM.Type {
	case "openai", "ollama", "":
	default:
		add("llm.type", "unknown llm %q", c.LLM.Type)
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("llm.temperature", "temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		add("llm.max_tokens", "max_tokens must be positive")
	}

	// Chunker
	switch c.Chunker.Type {
	case "recursive", "markdown", "":
	default:
		add("chunker.type", "unknown chunker %q", c.Chunker.Type)
	}
	if c.Chunker.ChunkSize < 0 {
		add("chunker.chunk_size", "chunk_size must not be negative")
	}
	if o := c.Chunker.ChunkOverlap; o != nil && *o < 0 {
		add("chunker.chunk_overlap", "chunk_overlap must not be negative")
	}
	if c.Chunker.MaxChunkSize < 0 {
		add("chunker.max_chunk_size", "max_chunk_size must not be negative")
	}

	// Pipeline
	if c.Pipeline.TopK < 1 {
		add("pipeline.top_k", "top_k must be positive")
	}
	if c.Pipeline.ScoreThreshold < -1 || c.Pipeline.ScoreThreshold > 1 {
		add("pipeline.score_threshold", "score_threshold must be between -1 and 1")
	}

	// Rules
	if s := c.Rules.SourceCitation.MinConfidenceScore; s < 0 || s > 1 {
		add("rules.source_citation.min_confidence_score", "must be between 0 and 1")
	}
	if s := c.Rules.UncertaintyDisclosure.LowConfidenceThreshold; s < 0 || s > 1 {
		add("rules.uncertainty_disclosure.low_confidence_threshold", "must be between 0 and 1")
	}

	// Retry
	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries", "max_retries must not be negative")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		add("retry", "delays must not be negative")
	}

	return errs
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
