// Package pipeline indexes documents into a tenant collection and answers
// questions over it with retrieval-augmented generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"corpus/internal/domain"
	"corpus/internal/logger"
)

// DefaultSystemPrompt grounds answers in the retrieved context.
const DefaultSystemPrompt = `You are an expert assistant. Answer ONLY using the provided context.
If the information is not in the context, reply "I don't have this information in the provided documents."
Cite your sources at the end of your answer using the format [Source: document_name].`

// NoResultsAnswer is returned without calling the LLM when retrieval finds nothing.
const NoResultsAnswer = "I couldn't find any relevant information in the provided documents."

// Query defaults.
const (
	DefaultTopK           = 5
	DefaultScoreThreshold = 0.4
)

const contextDelimiter = "\n\n---\n\n"

// LLMConfig holds the chat settings of a pipeline. Zero fields are filled
// from lower-priority settings, then from package defaults.
type LLMConfig struct {
	Model string `yaml:"model"`
	// Temperature is a pointer so that an explicit zero can be told from unset.
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	SystemPrompt string   `yaml:"system_prompt"`
}

// Or returns c with its unset fields taken from fallback.
func (c LLMConfig) Or(fallback LLMConfig) LLMConfig {
	if c.Model == "" {
		c.Model = fallback.Model
	}
	if c.Temperature == nil {
		c.Temperature = fallback.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = fallback.MaxTokens
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = fallback.SystemPrompt
	}
	return c
}

// Temp returns a temperature setting.
func Temp(t float64) *float64 { return &t }

func defaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:        "gpt-4o-mini",
		Temperature:  Temp(0.2),
		MaxTokens:    1000,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// ContextBuilder renders retrieved sources into the context block sent to the LLM.
type ContextBuilder func(sources []domain.Source) string

// Option configures a pipeline.
type Option func(*Pipeline)

// WithContextBuilder replaces the default "[Source: name]" context rendering.
func WithContextBuilder(fn ContextBuilder) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.buildContext = fn
		}
	}
}

// Pipeline is bound to one collection. It holds no per-request state and is
// safe for concurrent use when its collaborators are.
type Pipeline struct {
	embedder     domain.Embedder
	store        domain.VectorStore
	chunker      domain.Chunker
	llm          domain.LLM
	cfg          LLMConfig
	buildContext ContextBuilder
}

// New wires a pipeline.
func New(embedder domain.Embedder, store domain.VectorStore, chunker domain.Chunker, llm domain.LLM, cfg LLMConfig, opts ...Option) (*Pipeline, error) {
	switch {
	case embedder == nil:
		return nil, fmt.Errorf("%w: pipeline needs an embedder", domain.ErrInvalidConfig)
	case store == nil:
		return nil, fmt.Errorf("%w: pipeline needs a vector store", domain.ErrInvalidConfig)
	case chunker == nil:
		return nil, fmt.Errorf("%w: pipeline needs a chunker", domain.ErrInvalidConfig)
	case llm == nil:
		return nil, fmt.Errorf("%w: pipeline needs an llm", domain.ErrInvalidConfig)
	}
	p := &Pipeline{
		embedder:     embedder,
		store:        store,
		chunker:      chunker,
		llm:          llm,
		cfg:          cfg.Or(defaultLLMConfig()),
		buildContext: DefaultContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Collection returns the name of the bound collection.
func (p *Pipeline) Collection() string { return p.store.CollectionName() }

// LLMConfig returns the effective chat settings.
func (p *Pipeline) LLMConfig() LLMConfig { return p.cfg }

// Index chunks, embeds and stores documents. Documents that yield no chunks
// leave the store untouched.
func (p *Pipeline) Index(ctx context.Context, docs []domain.Document) (*domain.IndexResult, error) {
	var chunks []domain.Chunk
	for _, doc := range docs {
		chunks = append(chunks, p.chunker.Chunk(doc.Content, domain.ChunkMetadata{
			DocumentID: doc.ID,
			Source:     doc.Source,
			Extra:      doc.Metadata,
		})...)
	}
	result := &domain.IndexResult{DocumentsIndexed: len(docs), ChunkIDs: []string{}}
	if len(chunks) == 0 {
		logger.Debug("index %s: no chunks from %d document(s)", p.Collection(), len(docs))
		return result, nil
	}
	if err := p.store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure collection %s: %w", p.Collection(), err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	points := make([]domain.VectorPoint, len(chunks))
	for i, c := range chunks {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			return nil, fmt.Errorf("%w: chunk %s of document %s", domain.ErrMissingEmbedding, c.ID, c.Metadata.DocumentID)
		}
		points[i] = domain.VectorPoint{ID: c.ID, Vector: vectors[i], Payload: payload(c)}
	}
	if err := p.store.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("upsert %d points: %w", len(points), err)
	}

	result.ChunksCreated = len(chunks)
	for _, c := range chunks {
		result.ChunkIDs = append(result.ChunkIDs, c.ID)
	}
	logger.Debug("index %s: %d document(s), %d chunk(s)", p.Collection(), len(docs), len(chunks))
	return result, nil
}

// payload builds the stored payload of a chunk. Document metadata is copied
// first so that it can never shadow the reserved keys.
func payload(c domain.Chunk) map[string]any {
	out := make(map[string]any, len(c.Metadata.Extra)+6)
	for k, v := range c.Metadata.Extra {
		out[k] = v
	}
	out[domain.PayloadText] = c.Text
	out[domain.PayloadSource] = c.Metadata.Source
	out[domain.PayloadDocumentID] = c.Metadata.DocumentID
	out[domain.PayloadChunkIndex] = c.Metadata.ChunkIndex
	if c.Metadata.Header != "" {
		out["header"] = c.Metadata.Header
		out["headerLevel"] = c.Metadata.HeaderLevel
	}
	return out
}

// Query answers question from the best matching chunks with a single LLM call.
// When nothing matches, NoResultsAnswer is returned and the LLM is not called.
func (p *Pipeline) Query(ctx context.Context, question string, opts ...QueryOption) (*domain.RAGResponse, error) {
	o := queryOptions(opts)
	sources, err := p.retrieve(ctx, question, o)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return noResults(), nil
	}

	block := p.buildContext(sources)
	answer, err := p.llm.Complete(ctx, p.chatRequest(question, block))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &domain.RAGResponse{Answer: answer, Sources: visible(sources, o), Context: block}, nil
}

// DeleteDocuments removes the vectors of every document independently.
// Failures are collected into a *domain.DeleteError naming the documents
// that must be retried.
func (p *Pipeline) DeleteDocuments(ctx context.Context, documentIDs []string) error {
	var failures []domain.DocumentFailure
	for _, id := range documentIDs {
		err := p.store.Delete(ctx, domain.DocumentFilter(id))
		if err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
			logger.Warn("delete vectors of document %s in %s: %v", id, p.Collection(), err)
			failures = append(failures, domain.DocumentFailure{DocumentID: id, Err: err})
		}
	}
	if len(failures) > 0 {
		return &domain.DeleteError{Failures: failures}
	}
	return nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string, o domain.QueryOptions) ([]domain.Source, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is blank", domain.ErrEmptyInput)
	}
	vector, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	results, err := p.store.Search(ctx, vector, domain.SearchOptions{
		Limit:          o.TopK,
		ScoreThreshold: o.ScoreThreshold,
		Filter:         o.Filter,
	})
	if errors.Is(err, domain.ErrCollectionNotFound) {
		logger.Debug("query %s: collection does not exist yet", p.Collection())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.Collection(), err)
	}

	sources := make([]domain.Source, len(results))
	for i, r := range results {
		name, _ := r.Payload[domain.PayloadSource].(string)
		if name == "" {
			name = "unknown"
		}
		text, _ := r.Payload[domain.PayloadText].(string)
		sources[i] = domain.Source{ChunkID: r.ID, DocumentSource: name, Score: r.Score, Text: text}
	}
	logger.Debug("query %s: %d hit(s)", p.Collection(), len(sources))
	return sources, nil
}

func (p *Pipeline) chatRequest(question, block string) domain.ChatRequest {
	return domain.ChatRequest{
		Model: p.cfg.Model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: p.cfg.SystemPrompt + "\n\nCONTEXT:\n---\n" + block + "\n---"},
			{Role: domain.RoleUser, Content: question},
		},
		Temperature: *p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
}

// DefaultContext renders each source as "[Source: name]" followed by its text.
func DefaultContext(sources []domain.Source) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		blocks[i] = "[Source: " + s.DocumentSource + "]\n" + s.Text
	}
	return strings.Join(blocks, contextDelimiter)
}

func noResults() *domain.RAGResponse {
	return &domain.RAGResponse{Answer: NoResultsAnswer, Sources: []domain.Source{}, Context: ""}
}

func visible(sources []domain.Source, o domain.QueryOptions) []domain.Source {
	if !o.IncludeSources {
		return []domain.Source{}
	}
	return sources
}
