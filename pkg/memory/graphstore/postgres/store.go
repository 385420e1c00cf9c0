// Package postgres provides a PostgreSQL-backed implementation of
// [memory.GraphStore], the property-graph half of hybrid long-term memory.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.UpsertNode(ctx, memory.Entity{ID: "fn-parse", Label: "Function", Name: "parse"})
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemex/mnemex/pkg/memory"
)

// Compile-time interface check.
var _ memory.GraphStore = (*Store)(nil)

// Store is a PostgreSQL-backed [memory.GraphStore]. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the database
// at dsn, and runs [Migrate] to ensure the backing tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", memory.ErrBackendUnavailable, err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertNode implements [memory.GraphStore]. If a node with the same ID
// already exists it is completely replaced and its updated_at is refreshed.
func (s *Store) UpsertNode(ctx context.Context, entity memory.Entity) error {
	attrsJSON, err := json.Marshal(entity.Attributes)
	if err != nil {
		return fmt.Errorf("graphstore/postgres: upsert node: marshal attributes: %w", err)
	}

	const q = `
		INSERT INTO graph_nodes (id, label, name, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
		    label       = EXCLUDED.label,
		    name        = EXCLUDED.name,
		    attributes  = EXCLUDED.attributes,
		    updated_at  = now()`

	if _, err := s.pool.Exec(ctx, q, entity.ID, entity.Label, entity.Name, attrsJSON); err != nil {
		return fmt.Errorf("graphstore/postgres: upsert node: %w", err)
	}
	return nil
}

// GetNode implements [memory.GraphStore].
func (s *Store) GetNode(ctx context.Context, id string) (*memory.Entity, error) {
	const q = `
		SELECT id, label, name, attributes, created_at, updated_at
		FROM   graph_nodes
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: get node: %w", err)
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: get node: %w", err)
	}
	if len(entities) == 0 {
		return nil, memory.ErrNotFound
	}
	return &entities[0], nil
}

// DeleteNode implements [memory.GraphStore]. Edges touching the node are
// removed via ON DELETE CASCADE. Deleting a non-existent node is not an error.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	const q = `DELETE FROM graph_nodes WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("graphstore/postgres: delete node: %w", err)
	}
	return nil
}

// FindNodes implements [memory.GraphStore]. All non-zero filter fields are
// applied as AND conditions.
func (s *Store) FindNodes(ctx context.Context, filter memory.EntityFilter) ([]memory.Entity, error) {
	args, conditions := buildEntityConditions(filter)

	q := "SELECT id, label, name, attributes, created_at, updated_at\nFROM   graph_nodes"
	if len(conditions) > 0 {
		q += "\nWHERE " + strings.Join(conditions, "\n  AND ")
	}
	q += "\nORDER BY name"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: find nodes: %w", err)
	}
	result, err := collectEntities(rows)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: find nodes: %w", err)
	}
	return result, nil
}

// buildEntityConditions translates filter into a parameterized WHERE clause,
// returning the accumulated argument list alongside the condition strings.
func buildEntityConditions(filter memory.EntityFilter) ([]any, []string) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.Label != "" {
		conditions = append(conditions, "label = "+next(filter.Label))
	}
	if filter.Name != "" {
		conditions = append(conditions, "name ILIKE "+next("%"+filter.Name+"%"))
	}
	if len(filter.AttributeQuery) > 0 {
		attrJSON, err := json.Marshal(filter.AttributeQuery)
		if err == nil {
			conditions = append(conditions, "attributes @> "+next(string(attrJSON))+"::jsonb")
		}
	}
	return args, conditions
}

// UpsertEdge implements [memory.GraphStore]. Returns [memory.ErrEndpointMissing]
// if either endpoint does not exist.
func (s *Store) UpsertEdge(ctx context.Context, rel memory.Relationship) error {
	attrsJSON, err := json.Marshal(rel.Attributes)
	if err != nil {
		return fmt.Errorf("graphstore/postgres: upsert edge: marshal attributes: %w", err)
	}

	const q = `
		INSERT INTO graph_edges (source_id, target_id, rel_type, attributes, created_at)
		SELECT $1, $2, $3, $4, now()
		WHERE  EXISTS (SELECT 1 FROM graph_nodes WHERE id = $1)
		  AND  EXISTS (SELECT 1 FROM graph_nodes WHERE id = $2)
		ON CONFLICT (source_id, target_id, rel_type) DO UPDATE SET
		    attributes = EXCLUDED.attributes`

	tag, err := s.pool.Exec(ctx, q, rel.SourceID, rel.TargetID, rel.Type, attrsJSON)
	if err != nil {
		return fmt.Errorf("graphstore/postgres: upsert edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrEndpointMissing
	}
	return nil
}

// DeleteEdge implements [memory.GraphStore]. Deleting a non-existent edge is
// not an error.
func (s *Store) DeleteEdge(ctx context.Context, sourceID, targetID, relType string) error {
	const q = `
		DELETE FROM graph_edges
		WHERE source_id = $1 AND target_id = $2 AND rel_type = $3`

	if _, err := s.pool.Exec(ctx, q, sourceID, targetID, relType); err != nil {
		return fmt.Errorf("graphstore/postgres: delete edge: %w", err)
	}
	return nil
}

// Neighbors implements [memory.GraphStore]. It performs a breadth-first
// traversal from entityID up to depth hops using a PostgreSQL recursive CTE,
// excluding the start entity. Cycles are prevented by tracking visited node
// IDs in a PostgreSQL text array.
func (s *Store) Neighbors(ctx context.Context, entityID string, depth int, opts ...memory.NeighborOpt) ([]memory.Entity, error) {
	relTypes, nodeTypes, incoming, outgoing, maxNodes := memory.ApplyNeighborOpts(opts)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	startArg := next(entityID) // $1
	depthArg := next(depth)    // $2

	joinClause := directionJoin(incoming, outgoing)

	relTypeFilter := ""
	if len(relTypes) > 0 {
		relTypeFilter = "\n           AND edge.rel_type = ANY(" + next(relTypes) + "::text[])"
	}

	nodeTypeFilter := ""
	if len(nodeTypes) > 0 {
		nodeTypeFilter = "\n           AND n.label = ANY(" + next(nodeTypes) + "::text[])"
	}

	q := fmt.Sprintf(`
		WITH RECURSIVE reachable AS (
		    SELECT id,
		           ARRAY[id] AS visited,
		           0          AS depth
		    FROM   graph_nodes
		    WHERE  id = %s

		    UNION ALL

		    SELECT n.id,
		           r.visited || n.id,
		           r.depth + 1
		    FROM   reachable r
		    JOIN   graph_edges edge ON %s
		    JOIN   graph_nodes  n   ON n.id = %s
		    WHERE  r.depth < %s
		      AND  NOT (n.id = ANY(r.visited))%s%s
		)
		SELECT DISTINCT ON (n.id)
		       n.id, n.label, n.name, n.attributes, n.created_at, n.updated_at
		FROM   reachable rc
		JOIN   graph_nodes  n  ON n.id = rc.id
		WHERE  rc.id != %s
		ORDER  BY n.id`, startArg, joinClause.edgeJoin, joinClause.nodeJoin, depthArg, relTypeFilter, nodeTypeFilter, startArg)

	if maxNodes > 0 {
		args = append(args, maxNodes)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: neighbors: %w", err)
	}
	result, err := collectEntities(rows)
	if err != nil {
		return nil, fmt.Errorf("graphstore/postgres: neighbors: %w", err)
	}
	return result, nil
}

// directionEdgeJoin describes how graph_edges joins to the frontier node (r)
// and the candidate node (n) for a given traversal direction.
type directionEdgeJoin struct {
	edgeJoin string
	nodeJoin string
}

// directionJoin builds the join predicates for outgoing-only, incoming-only,
// or both-directions traversal. Both directions match either endpoint.
func directionJoin(incoming, outgoing bool) directionEdgeJoin {
	switch {
	case outgoing && incoming:
		return directionEdgeJoin{
			edgeJoin: "edge.source_id = r.id OR edge.target_id = r.id",
			nodeJoin: "CASE WHEN edge.source_id = r.id THEN edge.target_id ELSE edge.source_id END",
		}
	case incoming:
		return directionEdgeJoin{edgeJoin: "edge.target_id = r.id", nodeJoin: "edge.source_id"}
	default:
		return directionEdgeJoin{edgeJoin: "edge.source_id = r.id", nodeJoin: "edge.target_id"}
	}
}

// Query implements [memory.GraphStore]. It finds the seed entities matching
// filter, then performs the same bounded breadth-first traversal as
// [Store.Neighbors] from each seed, returning the union of seeds and reached
// entities plus every edge among each seed and its reached entities (the
// induced edge set, which [memory.WithRelTypes] does not narrow).
func (s *Store) Query(ctx context.Context, filter memory.EntityFilter, depth int, opts ...memory.NeighborOpt) ([]memory.Entity, []memory.Relationship, error) {
	seeds, err := s.FindNodes(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("graphstore/postgres: query: %w", err)
	}
	if len(seeds) == 0 {
		return []memory.Entity{}, []memory.Relationship{}, nil
	}

	entitiesByID := make(map[string]memory.Entity, len(seeds))
	for _, e := range seeds {
		entitiesByID[e.ID] = e
	}

	relSeen := make(map[[3]string]memory.Relationship)
	for _, seed := range seeds {
		neighbors, err := s.Neighbors(ctx, seed.ID, depth, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("graphstore/postgres: query: %w", err)
		}
		for _, n := range neighbors {
			entitiesByID[n.ID] = n
		}

		rels, err := s.edgesAmong(ctx, seed.ID, append(idsOf(neighbors), seed.ID))
		if err != nil {
			return nil, nil, fmt.Errorf("graphstore/postgres: query: %w", err)
		}
		for _, r := range rels {
			relSeen[[3]string{r.SourceID, r.TargetID, r.Type}] = r
		}
	}

	entities := make([]memory.Entity, 0, len(entitiesByID))
	for _, e := range entitiesByID {
		entities = append(entities, e)
	}
	rels := make([]memory.Relationship, 0, len(relSeen))
	for _, r := range relSeen {
		rels = append(rels, r)
	}
	return entities, rels, nil
}

func idsOf(entities []memory.Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

// edgesAmong returns every edge whose source or target is within ids and the
// other endpoint is also within ids — the induced subgraph's edge set.
func (s *Store) edgesAmong(ctx context.Context, _ string, ids []string) ([]memory.Relationship, error) {
	if len(ids) == 0 {
		return []memory.Relationship{}, nil
	}
	const q = `
		SELECT source_id, target_id, rel_type, attributes, created_at
		FROM   graph_edges
		WHERE  source_id = ANY($1::text[]) AND target_id = ANY($1::text[])`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("edges among: %w", err)
	}
	return collectRelationships(rows)
}

// collectEntities scans pgx rows into a slice of Entity values.
func collectEntities(rows pgx.Rows) ([]memory.Entity, error) {
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entity, error) {
		var (
			e         memory.Entity
			attrsJSON []byte
		)
		if err := row.Scan(&e.ID, &e.Label, &e.Name, &attrsJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return memory.Entity{}, err
		}
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &e.Attributes); err != nil {
				return memory.Entity{}, fmt.Errorf("unmarshal entity attributes: %w", err)
			}
		}
		if e.Attributes == nil {
			e.Attributes = map[string]any{}
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []memory.Entity{}
	}
	return entities, nil
}

// collectRelationships scans pgx rows into a slice of Relationship values.
func collectRelationships(rows pgx.Rows) ([]memory.Relationship, error) {
	rels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Relationship, error) {
		var (
			r         memory.Relationship
			attrsJSON []byte
		)
		if err := row.Scan(&r.SourceID, &r.TargetID, &r.Type, &attrsJSON, &r.CreatedAt); err != nil {
			return memory.Relationship{}, err
		}
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &r.Attributes); err != nil {
				return memory.Relationship{}, fmt.Errorf("unmarshal rel attributes: %w", err)
			}
		}
		if r.Attributes == nil {
			r.Attributes = map[string]any{}
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if rels == nil {
		rels = []memory.Relationship{}
	}
	return rels, nil
}

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
