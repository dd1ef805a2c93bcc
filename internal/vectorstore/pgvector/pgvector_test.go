package pgvector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpus/internal/domain"
)

func f(v float64) *float64 { return &v }

func TestWhereBuilder_DocumentFilter(t *testing.T) {
	w := &whereBuilder{args: []any{"vector"}}

	sql := w.filter(domain.DocumentFilter("doc-1"))

	assert.Equal(t, "(payload @> $2::jsonb)", sql)
	assert.Equal(t, []any{"vector", `{"documentId":"doc-1"}`}, w.args)
}

func TestWhereBuilder_Combined(t *testing.T) {
	w := &whereBuilder{}

	sql := w.filter(domain.Filter{
		Must:    []domain.Clause{{Key: "chunkIndex", Range: &domain.Range{GTE: f(1), LT: f(5)}}},
		Should:  []domain.Clause{domain.MatchValue("lang", "en"), domain.MatchValue("public", true)},
		MustNot: []domain.Clause{domain.MatchValue("source", "draft.md")},
	})

	num := "(CASE WHEN jsonb_typeof(payload->$1) = 'number' THEN (payload->>$1)::double precision END)"
	want := "(COALESCE(" + num + " >= $2, FALSE) AND COALESCE(" + num + " < $3, FALSE))" +
		" AND ((payload @> $4::jsonb) OR (payload @> $5::jsonb))" +
		" AND NOT (payload @> $6::jsonb)"
	assert.Equal(t, want, sql)
	assert.Equal(t, []any{"chunkIndex", 1.0, 5.0, `{"lang":"en"}`, `{"public":true}`, `{"source":"draft.md"}`}, w.args)
}

func TestWhereBuilder_Empty(t *testing.T) {
	w := &whereBuilder{}
	assert.Equal(t, "TRUE", w.filter(domain.Filter{}))
	assert.Empty(t, w.args)
}

func TestNewStore_QuotesTableName(t *testing.T) {
	s := NewStore(nil, `ai_te"nant`, 3)
	assert.Equal(t, `"ai_te""nant"`, s.table)
	assert.Equal(t, `ai_te"nant`, s.CollectionName())
}

func TestSearchQuery_AlwaysAppliesThreshold(t *testing.T) {
	s := NewStore(nil, "ai_t1", 2)

	query, args, err := s.searchQuery([]float32{1, 0}, domain.SearchOptions{Limit: 3})
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE 1 - (embedding <=> $1) >= $2")
	assert.Contains(t, query, "LIMIT $3")
	assert.Equal(t, []any{0.0, 3}, args[1:])

	filter := domain.DocumentFilter("doc-1")
	query, args, err = s.searchQuery([]float32{1, 0}, domain.SearchOptions{Limit: 3, ScoreThreshold: 0.4, Filter: &filter})
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE (payload @> $2::jsonb) AND 1 - (embedding <=> $1) >= $3")
	assert.Equal(t, 0.4, args[2])
}
