package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    id          TEXT         PRIMARY KEY,
    label       TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    attributes  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_label ON graph_nodes (label);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_name  ON graph_nodes (name);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_attrs  ON graph_nodes USING GIN (attributes);

CREATE TABLE IF NOT EXISTS graph_edges (
    source_id   TEXT         NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
    target_id   TEXT         NOT NULL REFERENCES graph_nodes (id) ON DELETE CASCADE,
    rel_type    TEXT         NOT NULL,
    attributes  JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, target_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges (source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges (target_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_type   ON graph_edges (rel_type);
`

// Migrate creates or ensures the graph_nodes and graph_edges tables exist.
// Idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("graphstore/postgres: migrate: %w", err)
	}
	return nil
}
