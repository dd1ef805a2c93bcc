package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 256, cfg.Embedder.Hashing.Dimensions)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.Equal(t, "recursive", cfg.Chunker.Type)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.InDelta(t, 0.4, cfg.Pipeline.ScoreThreshold, 1e-9)
	assert.True(t, cfg.Rules.CorpusOnly.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv("QDRANT_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedder:
  type: openai
vector_store:
  type: qdrant
chunker:
  type: markdown
  max_chunk_size: 600
retry:
  max_retries: 0
  base_delay: 50ms
rules:
  uncertainty_disclosure:
    enabled: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 100, cfg.Embedder.OpenAI.BatchSize)
	assert.Equal(t, 1, cfg.Embedder.OpenAI.Concurrency)
	require.NotNil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, "http://localhost:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, 600, cfg.Chunker.MaxChunkSize)
	assert.Zero(t, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
	assert.False(t, cfg.Rules.UncertaintyDisclosure.Enabled)
	assert.Equal(t, "Based on the available documents, ", cfg.Rules.UncertaintyDisclosure.UncertaintyPrefix)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/corpus")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("CORPUS_TENANT", "acme")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedder:\n  type: ollama\nvector_store:\n  type: pgvector\nllm:\n  type: ollama\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Nil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, "postgres://u:p@db/corpus", cfg.VectorStore.PGVector.URL)
	assert.Equal(t, "http://ollama:11434", cfg.Embedder.Ollama.BaseURL)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "acme", cfg.Pipeline.Tenant)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedder: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Pipeline.Tenant = "t42"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "t42", loaded.Pipeline.Tenant)
	assert.Equal(t, cfg.Retry, loaded.Retry)
	assert.Equal(t, cfg.Rules, loaded.Rules)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }, "embedder.type"},
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "redis" }, "vector_store.type"},
		{"qdrant without url", func(c *AppConfig) {
			c.VectorStore = VectorStoreConfig{Type: "qdrant", Qdrant: &QdrantConfig{URL: "not a url"}}
		}, "vector_store.qdrant.url"},
		{"pgvector without url", func(c *AppConfig) { c.VectorStore = VectorStoreConfig{Type: "pgvector"} }, "vector_store.pgvector.url"},
		{"hot temperature", func(c *AppConfig) { v := 2.5; c.LLM.Temperature = &v }, "llm.temperature"},
		{"unknown chunker", func(c *AppConfig) { c.Chunker.Type = "sentence" }, "chunker.type"},
		{"zero top k", func(c *AppConfig) { c.Pipeline.TopK = 0 }, "pipeline.top_k"},
		{"negative retries", func(c *AppConfig) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"openai batch too large", func(c *AppConfig) {
			c.Embedder = EmbedderConfig{Type: "openai", OpenAI: &OpenAIEmbedderConfig{BaseURL: "https://api.openai.com/v1", BatchSize: 500}}
		}, "embedder.openai.batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
			assert.Contains(t, errs[0].Error(), tt.field+": ")
		})
	}
}
