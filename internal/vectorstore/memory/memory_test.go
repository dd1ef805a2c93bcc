package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpus/internal/domain"
)

func seeded(t *testing.T) (*Server, *Store) {
	t.Helper()
	srv := NewServer()
	s := srv.Store("ai_t1", 2)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.Upsert(ctx, []domain.VectorPoint{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{domain.PayloadDocumentID: "d1", domain.PayloadText: "east"}},
		{ID: "b", Vector: []float32{0.8, 0.6}, Payload: map[string]any{domain.PayloadDocumentID: "d1", domain.PayloadText: "north-east"}},
		{ID: "c", Vector: []float32{0, 1}, Payload: map[string]any{domain.PayloadDocumentID: "d2", domain.PayloadText: "north"}},
		{ID: "d", Vector: []float32{-1, 0}, Payload: map[string]any{domain.PayloadDocumentID: "d2", domain.PayloadText: "west"}},
	}))
	return srv, s
}

func TestSearch_OrderedAndThresholded(t *testing.T) {
	_, s := seeded(t)

	results, err := s.Search(context.Background(), []float32{1, 0}, domain.SearchOptions{Limit: 10, ScoreThreshold: 0.5})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.8, results[1].Score, 1e-6)
	assert.Equal(t, "east", results[0].Payload[domain.PayloadText])
}

func TestSearch_LimitAndFilter(t *testing.T) {
	_, s := seeded(t)
	ctx := context.Background()

	results, err := s.Search(ctx, []float32{1, 0}, domain.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	filter := domain.DocumentFilter("d2")
	results, err = s.Search(ctx, []float32{1, 0}, domain.SearchOptions{Limit: 10, Filter: &filter, OmitPayload: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].ID)
	assert.Empty(t, results[0].Payload)
}

func TestSearch_UnsetThresholdDropsOpposedVectors(t *testing.T) {
	_, s := seeded(t)
	ctx := context.Background()

	results, err := s.Search(ctx, []float32{-1, 0}, domain.SearchOptions{Limit: 10})
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
		assert.GreaterOrEqual(t, r.Score, 0.0)
	}
	assert.Equal(t, []string{"d", "c"}, ids)

	results, err = s.Search(ctx, []float32{-1, 0}, domain.SearchOptions{Limit: 10, ScoreThreshold: -1})
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestSearch_MissingCollection(t *testing.T) {
	s := NewServer().Store("ai_none", 2)
	_, err := s.Search(context.Background(), []float32{1, 0}, domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestUpsert_ReplacesAndChecksDimension(t *testing.T) {
	srv, s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.VectorPoint{{ID: "a", Vector: []float32{0, 1}}}))
	assert.Equal(t, 4, srv.Count("ai_t1"))

	err := s.Upsert(ctx, []domain.VectorPoint{{ID: "x", Vector: []float32{1, 0, 0}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 4, srv.Count("ai_t1"))
}

func TestEnsureCollection_SizeConflict(t *testing.T) {
	srv, _ := seeded(t)
	err := srv.Store("ai_t1", 3).EnsureCollection(context.Background())
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestDelete(t *testing.T) {
	srv, s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, domain.DocumentFilter("d1")))
	assert.Equal(t, 2, srv.Count("ai_t1"))

	require.NoError(t, s.DeleteByIDs(ctx, []string{"c", "missing"}))
	assert.Equal(t, 1, srv.Count("ai_t1"))

	assert.ErrorIs(t, s.Delete(ctx, domain.Filter{}), domain.ErrInvalidConfig)
}

func TestCollectionsAreIsolated(t *testing.T) {
	srv, _ := seeded(t)
	ctx := context.Background()
	other := srv.Store("ai_t2", 2)
	require.NoError(t, other.EnsureCollection(ctx))

	results, err := other.Search(ctx, []float32{1, 0}, domain.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, []string{"ai_t1", "ai_t2"}, srv.Collections())

	require.NoError(t, other.DeleteCollection(ctx))
	require.NoError(t, other.DeleteCollection(ctx))
	assert.Equal(t, []string{"ai_t1"}, srv.Collections())
}
