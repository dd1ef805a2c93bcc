package domain

import "context"

// Document is a piece of uploaded content handed to the indexer.
// It only lives for the duration of an indexing call.
type Document struct {
	ID       string
	Content  string
	Source   string
	Metadata map[string]any
}

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	DocumentID  string
	Source      string
	ChunkIndex  int
	TotalChunks int
	Header      string
	HeaderLevel int
	// Extra carries document metadata passed through untouched.
	Extra map[string]any
}

// Chunk is a bounded text segment, the unit of embedding and retrieval.
type Chunk struct {
	ID       string
	Text     string
	Index    int
	Metadata ChunkMetadata
}

// VectorPoint is a record stored in a vector collection.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is a scored hit returned by a vector store.
type SearchResult struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// SearchOptions configures a similarity search.
type SearchOptions struct {
	Limit int
	// ScoreThreshold is the minimum cosine score of returned hits. Unset means
	// zero, so anti-correlated points are never returned implicitly.
	ScoreThreshold float64
	Filter         *Filter
	// OmitPayload skips payload retrieval.
	OmitPayload bool
}

// QueryOptions tunes retrieval for a single question.
type QueryOptions struct {
	TopK           int
	ScoreThreshold float64
	Filter         *Filter
	IncludeSources bool
}

// Source is a citation derived from a search hit at query time.
type Source struct {
	ChunkID        string
	DocumentSource string
	Score          float64
	Text           string
}

// RAGResponse is the result of a question answered over retrieved context.
type RAGResponse struct {
	Answer  string
	Sources []Source
	// Context is the exact block sent to the LLM.
	Context string
}

// IndexResult summarises an indexing call.
type IndexResult struct {
	DocumentsIndexed int
	ChunksCreated    int
	ChunkIDs         []string
}

// Payload keys written for every indexed chunk.
const (
	PayloadText       = "text"
	PayloadSource     = "source"
	PayloadDocumentID = "documentId"
	PayloadChunkIndex = "chunkIndex"
)

// Chunker splits document text into chunks.
type Chunker interface {
	Strategy() string
	Chunk(text string, metadata ChunkMetadata) []Chunk
}

// Embedder converts text into fixed-dimension vectors.
// Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// VectorStore is a client bound to one collection of a vector database.
type VectorStore interface {
	CollectionName() string
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []VectorPoint) error
	// Search returns at most opts.Limit hits in descending score order,
	// each scoring at least opts.ScoreThreshold.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]SearchResult, error)
	Delete(ctx context.Context, filter Filter) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteCollection(ctx context.Context) error
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single message of a chat completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// LLM generates chat completions.
type LLM interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	// Stream calls onToken for every incremental token and returns the full text.
	// An error returned by onToken aborts the stream and is returned as is.
	Stream(ctx context.Context, req ChatRequest, onToken func(token string) error) (string, error)
}
