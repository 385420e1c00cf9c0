// Package postgres provides a PostgreSQL/pgvector-backed implementation of
// [memory.VectorStore], the embedding half of hybrid long-term memory.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS and creates an
// HNSW index for approximate cosine-distance search.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Add(ctx, memory.VectorRecord{ID: "chunk-1", Vector: vec, Content: text})
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mnemex/mnemex/pkg/memory"
)

// Compile-time interface check.
var _ memory.VectorStore = (*Store)(nil)

// Store is a PostgreSQL/pgvector-backed [memory.VectorStore].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore creates a new Store, establishes a connection pool to the database
// at dsn, registers pgvector types on every connection, and runs [Migrate] to
// ensure the backing table and extension exist.
//
// dims must match the dimensionality of every [memory.VectorRecord.Vector]
// added through this store; it is baked into the table's vector column type.
func NewStore(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/postgres: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", memory.ErrBackendUnavailable, err)
	}

	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, dims: dims}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Add implements [memory.VectorStore].
func (s *Store) Add(ctx context.Context, record memory.VectorRecord) error {
	if len(record.Vector) != s.dims {
		return fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(record.Vector), s.dims)
	}

	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return fmt.Errorf("vectorstore/postgres: add: %w", err)
	}

	const q = `
		INSERT INTO vector_records (id, content, embedding, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata  = EXCLUDED.metadata,
		    timestamp = EXCLUDED.timestamp`

	vec := pgvector.NewVector(record.Vector)
	if _, err := s.pool.Exec(ctx, q, record.ID, record.Content, vec, metadata, record.Timestamp); err != nil {
		return fmt.Errorf("vectorstore/postgres: add: %w", err)
	}
	return nil
}

// Get implements [memory.VectorStore].
func (s *Store) Get(ctx context.Context, id string) (*memory.VectorRecord, error) {
	const q = `SELECT id, content, embedding, metadata, timestamp FROM vector_records WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	rec, err := scanRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, memory.ErrNotFound
		}
		return nil, fmt.Errorf("vectorstore/postgres: get: %w", err)
	}
	return rec, nil
}

// Delete implements [memory.VectorStore].
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM vector_records WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("vectorstore/postgres: delete: %w", err)
	}
	return nil
}

// Search implements [memory.VectorStore].
func (s *Store) Search(ctx context.Context, query []float32, topK int, filter memory.VectorFilter) ([]memory.ScoredVectorRecord, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(query), s.dims)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", memory.ErrInvalidArgument)
	}

	queryVec := pgvector.NewVector(query)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	for k, v := range filter.Metadata {
		conditions = append(conditions, fmt.Sprintf("metadata @> %s::jsonb", next(mustJSON(map[string]any{k: v}))))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, content, embedding, metadata, timestamp,
		       1 - (embedding <=> $1) AS score
		FROM   vector_records
		%s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/postgres: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ScoredVectorRecord, error) {
		var (
			sr       memory.ScoredVectorRecord
			vec      pgvector.Vector
			metaJSON []byte
		)
		if err := row.Scan(&sr.Record.ID, &sr.Record.Content, &vec, &metaJSON, &sr.Record.Timestamp, &sr.Score); err != nil {
			return memory.ScoredVectorRecord{}, err
		}
		sr.Record.Vector = vec.Slice()
		meta, err := unmarshalMetadata(metaJSON)
		if err != nil {
			return memory.ScoredVectorRecord{}, err
		}
		sr.Record.Metadata = meta
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore/postgres: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.ScoredVectorRecord{}
	}
	return results, nil
}

// Dimensions implements [memory.VectorStore].
func (s *Store) Dimensions() int {
	return s.dims
}

// scanRecord scans a single vector_records row into a [memory.VectorRecord].
func scanRecord(row pgx.Row) (*memory.VectorRecord, error) {
	var (
		rec      memory.VectorRecord
		vec      pgvector.Vector
		metaJSON []byte
	)
	if err := row.Scan(&rec.ID, &rec.Content, &vec, &metaJSON, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.Vector = vec.Slice()
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	rec.Metadata = meta
	return &rec, nil
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == pgx.ErrNoRows.Error()
}
