// Package ollama embeds text with a local Ollama server through langchaingo.
package ollama

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"

	"corpus/internal/domain"
	"corpus/internal/embedding"
)

// Defaults for a local Ollama installation.
const (
	DefaultModel      = "nomic-embed-text:latest"
	DefaultBaseURL    = "http://localhost:11434"
	DefaultDimensions = 768
)

// EmbeddingCreator is the part of the langchaingo Ollama client used here.
type EmbeddingCreator interface {
	CreateEmbedding(ctx context.Context, inputTexts []string) ([][]float32, error)
}

var _ domain.Embedder = (*Embedder)(nil)

// Embedder produces embeddings with an Ollama model.
type Embedder struct {
	client     EmbeddingCreator
	model      string
	dimensions int
	batchSize  int
}

// Config configures the Ollama embedder.
type Config struct {
	Model      string
	BaseURL    string
	Dimensions int
	BatchSize  int
}

// New connects to the Ollama server named by cfg.
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
	}
	return NewWithClient(llm, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client EmbeddingCreator, cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Embedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
	}
}

// ModelName returns the embedding model.
func (e *Embedder) ModelName() string { return e.model }

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts sequentially in batches, preserving input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedding.InBatches(ctx, texts, e.batchSize, 1, func(ctx context.Context, batch []string) ([][]float32, error) {
		vectors, err := e.client.CreateEmbedding(ctx, batch)
		if err != nil {
			return nil, &domain.UpstreamError{Provider: "ollama", Op: "embeddings", Err: err}
		}
		for i, v := range vectors {
			if len(v) != 0 && len(v) != e.dimensions {
				return nil, fmt.Errorf("%w: ollama returned %d values for input %d, want %d",
					domain.ErrDimensionMismatch, len(v), i, e.dimensions)
			}
		}
		return vectors, nil
	})
}
