// Package pgvector stores collections as PostgreSQL tables with a pgvector
// column and a JSONB payload.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"corpus/internal/domain"
)

const undefinedTable = "42P01"

// Connect opens a connection pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if connString == "" {
		return nil, fmt.Errorf("%w: database url is required", domain.ErrInvalidConfig)
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

var _ domain.VectorStore = (*Store)(nil)

// Store is a domain.VectorStore over one table.
type Store struct {
	pool       *pgxpool.Pool
	collection string
	table      string
	vectorSize int
}

// NewStore binds a store to the table named after collection.
func NewStore(pool *pgxpool.Pool, collection string, vectorSize int) *Store {
	return &Store{
		pool:       pool,
		collection: collection,
		table:      pgx.Identifier{collection}.Sanitize(),
		vectorSize: vectorSize,
	}
}

// CollectionName returns the bound collection.
func (s *Store) CollectionName() string { return s.collection }

// EnsureCollection creates the extension, table and index if needed. An
// existing table with another vector size is reported as a dimension mismatch.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if s.vectorSize <= 0 {
		return fmt.Errorf("%w: invalid vector size %d", domain.ErrInvalidConfig, s.vectorSize)
	}
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return s.upstream("create extension", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, s.table, s.vectorSize)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return s.upstream("create table", err)
	}

	var size int
	err := s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		s.table,
	).Scan(&size)
	if err != nil {
		return s.upstream("inspect table", err)
	}
	if size != s.vectorSize {
		return fmt.Errorf("%w: collection %s has size %d, want %d", domain.ErrDimensionMismatch, s.collection, size, s.vectorSize)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		pgx.Identifier{s.collection + "_embedding_idx"}.Sanitize(), s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return s.upstream("create index", err)
	}
	return nil
}

// Upsert inserts or replaces points in one transaction.
func (s *Store) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload`, s.table)

	batch := &pgx.Batch{}
	for _, p := range points {
		if len(p.Vector) != s.vectorSize {
			return fmt.Errorf("%w: point %s has %d values, want %d", domain.ErrDimensionMismatch, p.ID, len(p.Vector), s.vectorSize)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", p.ID, err)
		}
		batch.Queue(stmt, p.ID, pgvector.NewVector(p.Vector), string(payload))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.upstream("upsert", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return s.upstream("upsert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.upstream("upsert", err)
	}
	return nil
}

// Search returns the nearest points in descending score order. The score is
// the cosine similarity, one minus the pgvector cosine distance.
func (s *Store) Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if len(vector) != s.vectorSize {
		return nil, fmt.Errorf("%w: query has %d values, want %d", domain.ErrDimensionMismatch, len(vector), s.vectorSize)
	}

	query, args, err := s.searchQuery(vector, opts)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.upstream("search", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			r   domain.SearchResult
			raw []byte
		)
		if err := rows.Scan(&r.ID, &raw, &r.Score); err != nil {
			return nil, s.upstream("search", err)
		}
		r.Payload = map[string]any{}
		if err := json.Unmarshal(raw, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.upstream("search", err)
	}
	return results, nil
}

// searchQuery builds the similarity query. The threshold is always applied,
// so an unset one keeps only non-negative scores.
func (s *Store) searchQuery(vector []float32, opts domain.SearchOptions) (string, []any, error) {
	w := &whereBuilder{args: []any{pgvector.NewVector(vector)}}
	var conds []string
	if opts.Filter != nil && !opts.Filter.IsEmpty() {
		if err := opts.Filter.Validate(); err != nil {
			return "", nil, err
		}
		conds = append(conds, w.filter(*opts.Filter))
	}
	conds = append(conds, "1 - (embedding <=> $1) >= "+w.arg(opts.ScoreThreshold))
	where := "WHERE " + strings.Join(conds, " AND ")
	payloadCol := "payload"
	if opts.OmitPayload {
		payloadCol = "'{}'::jsonb"
	}
	query := fmt.Sprintf(`
		SELECT id, %s, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT %s`, payloadCol, s.table, where, w.arg(opts.Limit))

	return query, w.args, nil
}

// Delete removes every point matching filter.
func (s *Store) Delete(ctx context.Context, filter domain.Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("%w: refusing to delete with an empty filter", domain.ErrInvalidConfig)
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	w := &whereBuilder{}
	cond := w.filter(filter)
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, cond), w.args...); err != nil {
		return s.upstream("delete", err)
	}
	return nil
}

// DeleteByIDs removes the given points.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", s.table), ids); err != nil {
		return s.upstream("delete", err)
	}
	return nil
}

// DeleteCollection drops the table. A missing table is not an error.
func (s *Store) DeleteCollection(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.table)); err != nil {
		return s.upstream("delete collection", err)
	}
	return nil
}

func (s *Store) upstream(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, s.collection)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.UpstreamError{Provider: "pgvector", Op: op, Err: err}
}

// whereBuilder renders payload filters as SQL over the JSONB payload column
// and collects the positional arguments.
type whereBuilder struct {
	args []any
}

func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) filter(f domain.Filter) string {
	var parts []string
	for _, c := range f.Must {
		parts = append(parts, w.clause(c))
	}
	if len(f.Should) > 0 {
		should := make([]string, len(f.Should))
		for i, c := range f.Should {
			should[i] = w.clause(c)
		}
		parts = append(parts, "("+strings.Join(should, " OR ")+")")
	}
	for _, c := range f.MustNot {
		parts = append(parts, "NOT "+w.clause(c))
	}
	if len(parts) == 0 {
		return "TRUE"
	}
	return strings.Join(parts, " AND ")
}

// clause never evaluates to NULL, so NOT behaves like a negated match.
func (w *whereBuilder) clause(c domain.Clause) string {
	var conds []string
	if c.Match != nil {
		doc, _ := json.Marshal(map[string]any{c.Key: c.Match.Value})
		conds = append(conds, fmt.Sprintf("payload @> %s::jsonb", w.arg(string(doc))))
	}
	if c.Range != nil {
		num := fmt.Sprintf("(CASE WHEN jsonb_typeof(payload->%[1]s) = 'number' THEN (payload->>%[1]s)::double precision END)", w.arg(c.Key))
		for _, b := range []struct {
			op    string
			bound *float64
		}{
			{">", c.Range.GT},
			{">=", c.Range.GTE},
			{"<", c.Range.LT},
			{"<=", c.Range.LTE},
		} {
			if b.bound != nil {
				conds = append(conds, fmt.Sprintf("COALESCE(%s %s %s, FALSE)", num, b.op, w.arg(*b.bound)))
			}
		}
	}
	if len(conds) == 0 {
		return "FALSE"
	}
	return "(" + strings.Join(conds, " AND ") + ")"
}
