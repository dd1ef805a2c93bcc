package main

import (
	"context"
	"os"
	"time"

	"corpus/internal/chunker"
	"corpus/internal/config"
	"corpus/internal/domain"
	"corpus/internal/embedding/hashing"
	"corpus/internal/embedding/ollama"
	"corpus/internal/embedding/openai"
	"corpus/internal/llm"
	"corpus/internal/logger"
	"corpus/internal/pipeline"
	"corpus/internal/service"
	"corpus/internal/vectorstore/memory"
	"corpus/internal/vectorstore/pgvector"
	"corpus/internal/vectorstore/qdrant"
)

// app holds the components assembled from the config.
type app struct {
	factory *pipeline.Factory
	service *service.Service
	close   func()
}

// noLLM stands in for the chat model in commands that never generate answers.
type noLLM struct{ err error }

func (n noLLM) Complete(context.Context, domain.ChatRequest) (string, error) { return "", n.err }

func (n noLLM) Stream(context.Context, domain.ChatRequest, func(string) error) (string, error) {
	return "", n.err
}

// buildApp assembles the service. withLLM is false for commands that only
// index or delete, so they run without chat credentials.
func buildApp(ctx context.Context, cfg *config.AppConfig, withLLM bool) (*app, error) {
	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	stores, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var model domain.LLM
	model, err = llm.New(llm.Config{
		Provider:  cfg.LLM.Type,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
	})
	if err != nil {
		if withLLM {
			closeStores()
			return nil, err
		}
		logger.Debug("chat model unavailable: %v", err)
		model = noLLM{err: err}
	}

	var opts []service.Option
	opts = append(opts, service.WithRules(cfg.Rules))
	if cfg.Pipeline.StructuredContext {
		opts = append(opts, service.WithStructuredContext())
	}
	factory, err := pipeline.NewFactory(pipeline.FactoryConfig{
		Embedder: emb,
		Chunker:  ch,
		LLM:      model,
		Stores:   stores,
		Defaults: pipeline.LLMConfig{
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxTokens,
			SystemPrompt: cfg.LLM.SystemPrompt,
		},
	})
	if err != nil {
		closeStores()
		return nil, err
	}
	logger.Debug("embedder %s (%d dims), store %s, chunker %s", emb.ModelName(), emb.Dimensions(), cfg.VectorStore.Type, ch.Strategy())
	return &app{factory: factory, service: service.NewRAGService(factory, opts...), close: closeStores}, nil
}

func buildEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "openai":
		o := cfg.Embedder.OpenAI
		return openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Dimensions:        o.Dimensions,
			BatchSize:         o.BatchSize,
			Concurrency:       o.Concurrency,
			Timeout:           time.Duration(o.TimeoutSecs) * time.Second,
			Retry:             cfg.Retry,
			RequestsPerSecond: o.RequestsPerSecond,
		})
	case "ollama":
		o := cfg.Embedder.Ollama
		return ollama.New(ollama.Config{
			Model:      o.Model,
			BaseURL:    o.BaseURL,
			Dimensions: o.Dimensions,
			BatchSize:  o.BatchSize,
		})
	default:
		return hashing.NewEmbedder(cfg.Embedder.Hashing.Dimensions), nil
	}
}

func buildStores(ctx context.Context, cfg *config.AppConfig) (pipeline.StoreBuilder, func(), error) {
	switch cfg.VectorStore.Type {
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		key := q.APIKey
		if key == "" && q.APIKeyEnv != "" {
			key = os.Getenv(q.APIKeyEnv)
		}
		return func(collection string, size int) (domain.VectorStore, error) {
			return qdrant.NewStorage(qdrant.Config{
				URL:        q.URL,
				APIKey:     key,
				Collection: collection,
				VectorSize: size,
				Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
				Retry:      cfg.Retry,
			})
		}, func() {}, nil
	case "pgvector":
		pool, err := pgvector.Connect(ctx, cfg.VectorStore.PGVector.URL)
		if err != nil {
			return nil, nil, err
		}
		return func(collection string, size int) (domain.VectorStore, error) {
			return pgvector.NewStore(pool, collection, size), nil
		}, pool.Close, nil
	default:
		srv := memory.NewServer()
		return func(collection string, size int) (domain.VectorStore, error) {
			return srv.Store(collection, size), nil
		}, func() {}, nil
	}
}

func queryOptions(topK int, threshold float64, sources bool) []pipeline.QueryOption {
	opts := []pipeline.QueryOption{pipeline.WithTopK(topK), pipeline.WithScoreThreshold(threshold)}
	if !sources {
		opts = append(opts, pipeline.WithoutSources())
	}
	return opts
}
