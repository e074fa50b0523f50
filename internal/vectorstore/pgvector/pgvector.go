// Package pgvector stores collections in Postgres using the pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docrag/internal/domain"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS rag_collections (
	name      TEXT PRIMARY KEY,
	dimension INT NOT NULL
);

CREATE TABLE IF NOT EXISTS rag_entries (
	collection TEXT NOT NULL REFERENCES rag_collections(name) ON DELETE CASCADE,
	seq        BIGSERIAL,
	chunk_id   TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}',
	chunk_index INT NOT NULL,
	fallback   BOOLEAN NOT NULL DEFAULT FALSE,
	embedding  vector NOT NULL,
	PRIMARY KEY (collection, chunk_id)
);

CREATE INDEX IF NOT EXISTS idx_rag_entries_seq ON rag_entries(collection, seq);
`

type Storage struct {
	pool       *pgxpool.Pool
	collection string
	logger     *slog.Logger
}

// New connects to Postgres and makes sure the schema exists.
func New(ctx context.Context, connStr, collection string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: pgvector: %v", domain.ErrConfiguration, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.TransportError(ctx, "pgvector ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector schema: %w", err)
	}
	return &Storage{pool: pool, collection: collection, logger: logger}, nil
}

func (s *Storage) Dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT dimension FROM rag_collections WHERE name = $1`, s.collection).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, s.wrap(ctx, "dimension", err)
	}
	return dim, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rag_entries WHERE collection = $1`, s.collection).Scan(&n); err != nil {
		return 0, s.wrap(ctx, "count", err)
	}
	return n, nil
}

// Append inserts entries in one transaction. Known chunk IDs are skipped by
// the primary key.
func (s *Storage) Append(ctx context.Context, entries []domain.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, s.wrap(ctx, "begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dim := len(entries[0].Vector)
	if _, err := tx.Exec(ctx,
		`INSERT INTO rag_collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		s.collection, dim); err != nil {
		return 0, s.wrap(ctx, "create collection", err)
	}
	var have int
	if err := tx.QueryRow(ctx, `SELECT dimension FROM rag_collections WHERE name = $1`, s.collection).Scan(&have); err != nil {
		return 0, s.wrap(ctx, "dimension", err)
	}
	added := 0
	for _, e := range entries {
		if len(e.Vector) != have {
			return 0, fmt.Errorf("%w: vector has %d dimensions, collection has %d", domain.ErrDimensionMismatch, len(e.Vector), have)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO rag_entries (collection, chunk_id, content, metadata, chunk_index, fallback, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (collection, chunk_id) DO NOTHING`,
			s.collection, e.Chunk.ID, e.Chunk.Content, e.Chunk.Metadata, e.Chunk.Index, e.Fallback, pgvector.NewVector(e.Vector))
		if err != nil {
			return 0, s.wrap(ctx, "insert", err)
		}
		added += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, s.wrap(ctx, "commit", err)
	}
	return added, nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, content, metadata, chunk_index, fallback, 1 - (embedding <=> $2) AS score
		FROM rag_entries
		WHERE collection = $1
		ORDER BY embedding <=> $2, seq
		LIMIT $3`,
		s.collection, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, s.wrap(ctx, "search", err)
	}
	defer rows.Close()

	results := []domain.SearchResult{}
	for rows.Next() {
		var r domain.SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Content, &r.Chunk.Metadata, &r.Chunk.Index, &r.Fallback, &r.Score); err != nil {
			return nil, s.wrap(ctx, "scan", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, "search", err)
	}
	return results, nil
}

// Drop deletes the collection row; entries go with it through the cascade.
func (s *Storage) Drop(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rag_collections WHERE name = $1`, s.collection); err != nil {
		return s.wrap(ctx, "drop", err)
	}
	s.logger.Info("dropped pgvector collection", "collection", s.collection)
	return nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return domain.TransportError(ctx, "pgvector "+op, err)
	}
	return fmt.Errorf("pgvector %s: %w", op, err)
}
