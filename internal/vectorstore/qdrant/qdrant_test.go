package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpus/internal/domain"
	"corpus/internal/retry"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

type fakeQdrant struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r recorded)
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{method: r.Method, path: r.URL.RequestURI()}
	data, _ := io.ReadAll(r.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &rec.body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handler(w, rec)
}

func (f *fakeQdrant) seen() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func newStorage(t *testing.T, handler func(w http.ResponseWriter, r recorded)) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewStorage(Config{
		URL:        srv.URL,
		APIKey:     "secret",
		Collection: "ai_tenant",
		VectorSize: 3,
		Retry:      retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)
	return s, fake
}

func TestEnsureCollection_CreatesMissing(t *testing.T) {
	s, fake := newStorage(t, func(w http.ResponseWriter, r recorded) {
		if r.method == http.MethodGet {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"result":true}`))
	})

	require.NoError(t, s.EnsureCollection(context.Background()))

	require.Len(t, fake.seen(), 2)
	create := fake.seen()[1]
	assert.Equal(t, http.MethodPut, create.method)
	assert.Equal(t, "/collections/ai_tenant", create.path)
	assert.Equal(t, map[string]any{"size": float64(3), "distance": "Cosine"}, create.body["vectors"])
}

func TestEnsureCollection_ExistingWithOtherSize(t *testing.T) {
	s, _ := newStorage(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":1536,"distance":"Cosine"}}}}}`))
	})

	err := s.EnsureCollection(context.Background())
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestUpsert(t *testing.T) {
	s, fake := newStorage(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, nil))
	assert.Empty(t, fake.seen())

	err := s.Upsert(ctx, []domain.VectorPoint{{ID: "p1", Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Empty(t, fake.seen())

	err = s.Upsert(ctx, []domain.VectorPoint{{
		ID:      "p1",
		Vector:  []float32{1, 0, 0},
		Payload: map[string]any{domain.PayloadText: "hello"},
	}})
	require.NoError(t, err)
	require.Len(t, fake.seen(), 1)
	assert.Equal(t, "/collections/ai_tenant/points?wait=true", fake.seen()[0].path)
	points := fake.seen()[0].body["points"].([]any)
	assert.Equal(t, "p1", points[0].(map[string]any)["id"])
}

func TestSearch(t *testing.T) {
	s, fake := newStorage(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"result":[
			{"id":"b","score":0.55,"payload":{"text":"second"}},
			{"id":"a","score":0.91,"payload":{"text":"first","source":"a.md"}},
			{"id":42,"score":0.2}
		]}`))
	})

	filter := domain.DocumentFilter("doc-1")
	results, err := s.Search(context.Background(), []float32{1, 0, 0}, domain.SearchOptions{
		Limit:          5,
		ScoreThreshold: 0.5,
		Filter:         &filter,
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "first", results[0].Payload[domain.PayloadText])
	assert.Equal(t, "b", results[1].ID)

	body := fake.seen()[0].body
	assert.Equal(t, "/collections/ai_tenant/points/search", fake.seen()[0].path)
	assert.Equal(t, 0.5, body["score_threshold"])
	assert.Equal(t, true, body["with_payload"])
	assert.Equal(t, map[string]any{
		"must": []any{map[string]any{"key": "documentId", "match": map[string]any{"value": "doc-1"}}},
	}, body["filter"])
}

func TestSearch_UnsetThresholdIsZero(t *testing.T) {
	s, fake := newStorage(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"result":[{"id":"a","score":0.3},{"id":"z","score":-0.4}]}`))
	})

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, domain.SearchOptions{Limit: 5})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 0.0, fake.seen()[0].body["score_threshold"])
}

func TestSearch_MissingCollection(t *testing.T) {
	s, _ := newStorage(t, func(w http.ResponseWriter, r recorded) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := s.Search(context.Background(), []float32{1, 0, 0}, domain.SearchOptions{Limit: 3})
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)
}

func TestSearch_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	s, _ := newStorage(t, func(w http.ResponseWriter, r recorded) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":[]}`))
	})

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, domain.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDelete(t *testing.T) {
	s, fake := newStorage(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	})
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, domain.DocumentFilter("doc-9")))
	require.NoError(t, s.DeleteByIDs(ctx, nil))
	require.NoError(t, s.DeleteByIDs(ctx, []string{"p1", "p2"}))
	assert.ErrorIs(t, s.Delete(ctx, domain.Filter{}), domain.ErrInvalidConfig)

	require.Len(t, fake.seen(), 2)
	assert.Equal(t, "/collections/ai_tenant/points/delete?wait=true", fake.seen()[0].path)
	assert.Contains(t, fake.seen()[0].body, "filter")
	assert.Equal(t, []any{"p1", "p2"}, fake.seen()[1].body["points"])
}

func TestDeleteCollection_MissingIsSuccess(t *testing.T) {
	s, fake := newStorage(t, func(w http.ResponseWriter, r recorded) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	require.NoError(t, s.DeleteCollection(context.Background()))
	assert.Equal(t, http.MethodDelete, fake.seen()[0].method)
}

func TestAPIKeyHeader(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("api-key")
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	defer srv.Close()

	s, err := NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "c", VectorSize: 2})
	require.NoError(t, err)
	require.NoError(t, s.DeleteCollection(context.Background()))
	assert.Equal(t, "secret", <-got)
}

func TestNewStorage_Validation(t *testing.T) {
	_, err := NewStorage(Config{Collection: "c", VectorSize: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewStorage(Config{URL: "http://x", VectorSize: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewStorage(Config{URL: "http://x", Collection: "c"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
