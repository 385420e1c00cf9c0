package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl returns the vector_records DDL with the embedding dimension baked into
// the vector column type.
func ddl(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_records (
    id         TEXT         PRIMARY KEY,
    content    TEXT         NOT NULL,
    embedding  vector(%d)   NOT NULL,
    metadata   JSONB        NOT NULL DEFAULT '{}',
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vector_records_embedding
    ON vector_records USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_vector_records_metadata
    ON vector_records USING GIN (metadata);
`, dims)
}

// Migrate creates or ensures the vector_records table and the pgvector
// extension exist. Idempotent and safe to call on every application start.
//
// dims must match the embedding model configured for the deployment; changing
// it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if _, err := pool.Exec(ctx, ddl(dims)); err != nil {
		return fmt.Errorf("vectorstore/postgres: migrate: %w", err)
	}
	return nil
}
