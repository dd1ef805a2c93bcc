// Package qdrant is a REST client bound to one Qdrant collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"corpus/internal/domain"
	"corpus/internal/retry"
)

var _ domain.VectorStore = (*Storage)(nil)

// Storage is a minimal REST client to Qdrant using cosine distance.
type Storage struct {
	url        string
	apiKey     string
	collection string
	vectorSize int
	client     *http.Client
	policy     retry.Policy
}

// Config configures the Qdrant client.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorSize int
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
}

// NewStorage creates a client for cfg.Collection.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: qdrant url is required", domain.ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is required", domain.ErrInvalidConfig)
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: invalid vector size %d", domain.ErrInvalidConfig, cfg.VectorSize)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		client:     hc,
		policy:     cfg.Retry,
	}, nil
}

// CollectionName returns the bound collection.
func (s *Storage) CollectionName() string { return s.collection }

// EnsureCollection creates the collection if it does not exist. An existing
// collection with another vector size is reported as a dimension mismatch.
func (s *Storage) EnsureCollection(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, "get collection", http.MethodGet, s.collectionPath(), nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != s.vectorSize {
			return fmt.Errorf("%w: collection %s has size %d, want %d",
				domain.ErrDimensionMismatch, s.collection, size, s.vectorSize)
		}
		return nil
	case !errors.Is(err, domain.ErrCollectionNotFound):
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.vectorSize,
			"distance": "Cosine",
		},
	}
	err = s.do(ctx, "create collection", http.MethodPut, s.collectionPath(), body, nil)
	var uerr *domain.UpstreamError
	if errors.As(err, &uerr) && uerr.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

// Upsert inserts or replaces points. An empty batch is a no-op.
func (s *Storage) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		if len(p.Vector) != s.vectorSize {
			return fmt.Errorf("%w: point %s has %d values, want %d",
				domain.ErrDimensionMismatch, p.ID, len(p.Vector), s.vectorSize)
		}
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return s.do(ctx, "upsert", http.MethodPut, s.collectionPath()+"/points?wait=true", body, nil)
}

// Search returns the nearest points in descending score order.
func (s *Storage) Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           opts.Limit,
		"with_payload":    !opts.OmitPayload,
		"score_threshold": opts.ScoreThreshold,
	}
	if opts.Filter != nil && !opts.Filter.IsEmpty() {
		if err := opts.Filter.Validate(); err != nil {
			return nil, err
		}
		req["filter"] = encodeFilter(*opts.Filter)
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, "search", http.MethodPost, s.collectionPath()+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Score < opts.ScoreThreshold {
			continue
		}
		payload := r.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		results = append(results, domain.SearchResult{ID: pointID(r.ID), Score: r.Score, Payload: payload})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Delete removes every point matching filter.
func (s *Storage) Delete(ctx context.Context, filter domain.Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("%w: refusing to delete with an empty filter", domain.ErrInvalidConfig)
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	body := map[string]any{"filter": encodeFilter(filter)}
	return s.do(ctx, "delete", http.MethodPost, s.collectionPath()+"/points/delete?wait=true", body, nil)
}

// DeleteByIDs removes the given points. An empty list is a no-op.
func (s *Storage) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return s.do(ctx, "delete", http.MethodPost, s.collectionPath()+"/points/delete?wait=true", body, nil)
}

// DeleteCollection drops the collection. A missing collection is not an error.
func (s *Storage) DeleteCollection(ctx context.Context) error {
	err := s.do(ctx, "delete collection", http.MethodDelete, s.collectionPath(), nil, nil)
	if errors.Is(err, domain.ErrCollectionNotFound) {
		return nil
	}
	return err
}

func (s *Storage) collectionPath() string {
	return "/collections/" + url.PathEscape(s.collection)
}

// do sends one JSON request with retries. A 404 is reported as
// domain.ErrCollectionNotFound.
func (s *Storage) do(ctx context.Context, op, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return err
		}
	}

	return retry.Do(ctx, s.policy, nil, func(ctx context.Context) error {
		var reader io.Reader
		if data != nil {
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
		if err != nil {
			return err
		}
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.apiKey != "" {
			req.Header.Set("api-key", s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.Retryable(s.upstream(op, 0, err), 0)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, s.collection)
		}
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			uerr := s.upstream(op, resp.StatusCode, errors.New(strings.TrimSpace(string(msg))))
			if retry.RetryableStatus(resp.StatusCode) {
				return retry.Retryable(uerr, retry.RetryAfter(resp.Header))
			}
			return uerr
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return s.upstream(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	})
}

func (s *Storage) upstream(op string, status int, err error) error {
	return &domain.UpstreamError{Provider: "qdrant", Op: op, StatusCode: status, Err: err}
}

func encodeFilter(f domain.Filter) map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = encodeClauses(f.Must)
	}
	if len(f.Should) > 0 {
		out["should"] = encodeClauses(f.Should)
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = encodeClauses(f.MustNot)
	}
	return out
}

func encodeClauses(clauses []domain.Clause) []map[string]any {
	out := make([]map[string]any, len(clauses))
	for i, c := range clauses {
		m := map[string]any{"key": c.Key}
		if c.Match != nil {
			m["match"] = map[string]any{"value": c.Match.Value}
		}
		if c.Range != nil {
			r := map[string]any{}
			if c.Range.GT != nil {
				r["gt"] = *c.Range.GT
			}
			if c.Range.GTE != nil {
				r["gte"] = *c.Range.GTE
			}
			if c.Range.LT != nil {
				r["lt"] = *c.Range.LT
			}
			if c.Range.LTE != nil {
				r["lte"] = *c.Range.LTE
			}
			m["range"] = r
		}
		out[i] = m
	}
	return out
}

// pointID renders a Qdrant point id, which is either a UUID string or an
// unsigned integer.
func pointID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}
