package pipeline

import (
	"context"
	"fmt"
	"strings"

	"corpus/internal/domain"
)

// CollectionPrefix namespaces tenant collections.
const CollectionPrefix = "ai_"

// CollectionName returns the collection that holds the vectors of a tenant.
func CollectionName(tenantID string) string { return CollectionPrefix + tenantID }

// StoreBuilder opens a vector store bound to one collection.
type StoreBuilder func(collection string, vectorSize int) (domain.VectorStore, error)

// SettingsLookup returns the stored LLM defaults of a tenant. A tenant without
// stored settings yields a zero LLMConfig and no error.
type SettingsLookup func(ctx context.Context, tenantID string) (LLMConfig, error)

// FactoryConfig holds the collaborators shared by every tenant pipeline.
type FactoryConfig struct {
	Embedder domain.Embedder
	Chunker  domain.Chunker
	LLM      domain.LLM
	Stores   StoreBuilder
	// Defaults apply to every tenant below stored settings and overrides.
	Defaults LLMConfig
	Settings SettingsLookup
	Options  []Option
}

// Factory builds per-tenant pipelines over shared collaborators. Pipelines
// share no mutable state besides what the collaborators hold.
type Factory struct {
	cfg FactoryConfig
}

// NewFactory validates cfg.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	switch {
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("%w: factory needs an embedder", domain.ErrInvalidConfig)
	case cfg.Chunker == nil:
		return nil, fmt.Errorf("%w: factory needs a chunker", domain.ErrInvalidConfig)
	case cfg.LLM == nil:
		return nil, fmt.Errorf("%w: factory needs an llm", domain.ErrInvalidConfig)
	case cfg.Stores == nil:
		return nil, fmt.Errorf("%w: factory needs a store builder", domain.ErrInvalidConfig)
	}
	return &Factory{cfg: cfg}, nil
}

// Embedder returns the shared embedder.
func (f *Factory) Embedder() domain.Embedder { return f.cfg.Embedder }

// ForTenant builds the pipeline of a tenant. Settings resolve per field as
// overrides, then stored tenant settings, then factory defaults, then
// package defaults.
func (f *Factory) ForTenant(ctx context.Context, tenantID string, overrides LLMConfig, opts ...Option) (*Pipeline, error) {
	store, err := f.VectorStoreForTenant(tenantID)
	if err != nil {
		return nil, err
	}

	var stored LLMConfig
	if f.cfg.Settings != nil {
		stored, err = f.cfg.Settings(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("load settings of tenant %s: %w", tenantID, err)
		}
	}
	cfg := overrides.Or(stored).Or(f.cfg.Defaults)

	all := append(append([]Option{}, f.cfg.Options...), opts...)
	return New(f.cfg.Embedder, store, f.cfg.Chunker, f.cfg.LLM, cfg, all...)
}

// VectorStoreForTenant opens the store of a tenant collection, sized for the
// shared embedder.
func (f *Factory) VectorStoreForTenant(tenantID string) (domain.VectorStore, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is blank", domain.ErrEmptyInput)
	}
	store, err := f.cfg.Stores(CollectionName(tenantID), f.cfg.Embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("open store of tenant %s: %w", tenantID, err)
	}
	return store, nil
}
