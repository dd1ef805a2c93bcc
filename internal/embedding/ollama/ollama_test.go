package ollama

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpus/internal/domain"
)

type fakeClient struct {
	dims    int
	batches [][]string
	err     error
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	client := &fakeClient{dims: 4}
	e := NewWithClient(client, Config{Dimensions: 4, BatchSize: 2})

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(3), vectors[2][0])
	assert.Len(t, client.batches, 2)
	assert.Equal(t, DefaultModel, e.ModelName())
	assert.Equal(t, 4, e.Dimensions())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	e := NewWithClient(&fakeClient{dims: 3}, Config{Dimensions: 4})

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestEmbedder_UpstreamError(t *testing.T) {
	e := NewWithClient(&fakeClient{err: errors.New("connection refused")}, Config{})

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "ollama embeddings")
}
