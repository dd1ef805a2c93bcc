// Package memory is an in-process vector store using brute-force cosine
// similarity. A Server holds many collections; a Store is bound to one.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"corpus/internal/domain"
)

type collection struct {
	size   int
	points map[string]domain.VectorPoint
}

// Server holds named collections shared by every Store created from it.
type Server struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{collections: make(map[string]*collection)}
}

// Collections returns the names of the existing collections.
func (s *Server) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of points in a collection, or zero if it does not exist.
func (s *Server) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

// Store returns a client bound to one collection.
func (s *Server) Store(name string, vectorSize int) *Store {
	return &Store{server: s, name: name, size: vectorSize}
}

var _ domain.VectorStore = (*Store)(nil)

// Store is a domain.VectorStore over one collection of a Server.
type Store struct {
	server *Server
	name   string
	size   int
}

// CollectionName returns the bound collection.
func (s *Store) CollectionName() string { return s.name }

// EnsureCollection creates the collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if s.size <= 0 {
		return fmt.Errorf("%w: invalid vector size %d", domain.ErrInvalidConfig, s.size)
	}
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	if c, ok := s.server.collections[s.name]; ok {
		if c.size != s.size {
			return fmt.Errorf("%w: collection %s has size %d, want %d", domain.ErrDimensionMismatch, s.name, c.size, s.size)
		}
		return nil
	}
	s.server.collections[s.name] = &collection{size: s.size, points: make(map[string]domain.VectorPoint)}
	return nil
}

// Upsert inserts or replaces points.
func (s *Store) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	c, ok := s.server.collections[s.name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, s.name)
	}
	for _, p := range points {
		if len(p.Vector) != c.size {
			return fmt.Errorf("%w: point %s has %d values, want %d", domain.ErrDimensionMismatch, p.ID, len(p.Vector), c.size)
		}
	}
	for _, p := range points {
		c.points[p.ID] = domain.VectorPoint{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: copyPayload(p.Payload),
		}
	}
	return nil
}

// Search returns the best matching points in descending score order.
func (s *Store) Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	s.server.mu.RLock()
	defer s.server.mu.RUnlock()
	c, ok := s.server.collections[s.name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, s.name)
	}
	if len(vector) != c.size {
		return nil, fmt.Errorf("%w: query has %d values, want %d", domain.ErrDimensionMismatch, len(vector), c.size)
	}

	results := make([]domain.SearchResult, 0, len(c.points))
	for _, p := range c.points {
		if opts.Filter != nil && !opts.Filter.Matches(p.Payload) {
			continue
		}
		score := cosine(vector, p.Vector)
		if score < opts.ScoreThreshold {
			continue
		}
		r := domain.SearchResult{ID: p.ID, Score: score, Payload: map[string]any{}}
		if !opts.OmitPayload {
			r.Payload = copyPayload(p.Payload)
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Delete removes every point matching filter.
func (s *Store) Delete(ctx context.Context, filter domain.Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("%w: refusing to delete with an empty filter", domain.ErrInvalidConfig)
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	c, ok := s.server.collections[s.name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, s.name)
	}
	for id, p := range c.points {
		if filter.Matches(p.Payload) {
			delete(c.points, id)
		}
	}
	return nil
}

// DeleteByIDs removes the given points.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	c, ok := s.server.collections[s.name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, s.name)
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

// DeleteCollection drops the collection. A missing collection is not an error.
func (s *Store) DeleteCollection(ctx context.Context) error {
	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	delete(s.server.collections, s.name)
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
