// Package memory defines the storage-layer architecture used by the hybrid
// long-term memory tier.
//
// Two independent interfaces make up hybrid long-term memory:
//
//   - [VectorStore]: an embedding index supporting nearest-neighbour search
//     over [VectorRecord] payloads.
//   - [GraphStore]: a property graph of [Entity] nodes connected by typed
//     [Relationship] edges, supporting neighbourhood traversal and filtered
//     queries.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, an embedded SQLite vector index,
// in-memory, …) without depending on engine internals.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// ─────────────────────────────────────────────────────────────────────────────
// VectorStore
// ─────────────────────────────────────────────────────────────────────────────

// VectorStore is the embedding half of hybrid long-term memory: nearest
// neighbour search over [VectorRecord] payloads.
//
// Implementations must be safe for concurrent use. A linear-scan cosine
// similarity implementation is sufficient to satisfy this interface; ANN
// indexing is permitted but not required.
type VectorStore interface {
	// Add inserts or replaces (upsert by ID) a single record.
	// Returns [ErrDimensionMismatch] if record.Vector does not match the
	// store's configured dimensionality.
	Add(ctx context.Context, record VectorRecord) error

	// Get retrieves a record by ID.
	// Returns [ErrNotFound] when no record with that ID exists.
	Get(ctx context.Context, id string) (*VectorRecord, error)

	// Delete removes a record by ID. Deleting a non-existent record is not
	// an error.
	Delete(ctx context.Context, id string) error

	// Search returns the topK records whose vectors are most similar to
	// query, restricted to records matching filter.
	// Results are ordered by descending Score (most similar first).
	// Returns [ErrDimensionMismatch] if query does not match the store's
	// configured dimensionality.
	// Returns an empty (non-nil) slice when no records match.
	Search(ctx context.Context, query []float32, topK int, filter VectorFilter) ([]ScoredVectorRecord, error)

	// Dimensions returns the fixed vector length this store was configured
	// with.
	Dimensions() int
}

// ─────────────────────────────────────────────────────────────────────────────
// GraphStore
// ─────────────────────────────────────────────────────────────────────────────

// relQueryOptions accumulates options for [GraphStore.Neighbors].
// Unexported — callers configure it via [NeighborOpt] functional options.
type relQueryOptions struct {
	relTypes  []string
	nodeTypes []string
	incoming  bool
	outgoing  bool
	maxNodes  int
}

// NeighborOpt is a functional option for [GraphStore.Neighbors].
type NeighborOpt func(*relQueryOptions)

// WithRelTypes restricts traversal to edges whose Type is in the provided
// list. An empty list (the default) follows all edge types.
func WithRelTypes(relTypes ...string) NeighborOpt {
	return func(o *relQueryOptions) { o.relTypes = append(o.relTypes, relTypes...) }
}

// WithNodeTypes restricts traversal to entity nodes whose Label is in the
// provided list. An empty list (the default) visits all labels.
func WithNodeTypes(labels ...string) NeighborOpt {
	return func(o *relQueryOptions) { o.nodeTypes = append(o.nodeTypes, labels...) }
}

// WithIncoming follows edges where the queried entity is the target
// (inbound edges). Used alone it makes traversal inbound-only; combined with
// [WithOutgoing] it follows both directions. With neither option only
// outgoing edges are followed.
func WithIncoming() NeighborOpt {
	return func(o *relQueryOptions) { o.incoming = true }
}

// WithOutgoing follows edges where the queried entity is the source
// (outbound edges). Outbound-only is the default when neither direction
// option is given; combined with [WithIncoming] traversal follows both
// directions.
func WithOutgoing() NeighborOpt {
	return func(o *relQueryOptions) { o.outgoing = true }
}

// WithMaxNodes caps the number of entities returned by a traversal.
// A value of 0 means the implementation may apply its own default.
func WithMaxNodes(n int) NeighborOpt {
	return func(o *relQueryOptions) { o.maxNodes = n }
}

// ApplyNeighborOpts applies a slice of [NeighborOpt] functional options and
// returns the resolved traversal parameters. This helper lets external
// storage backends read option values without accessing the unexported
// relQueryOptions type.
func ApplyNeighborOpts(opts []NeighborOpt) (relTypes, nodeTypes []string, incoming, outgoing bool, maxNodes int) {
	o := &relQueryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if !o.incoming && !o.outgoing {
		o.outgoing = true
	}
	return o.relTypes, o.nodeTypes, o.incoming, o.outgoing, o.maxNodes
}

// GraphStore is the property-graph half of hybrid long-term memory: typed
// nodes ([Entity]) connected by typed, directed edges ([Relationship]).
//
// Mutating operations that act on a primary key (UpsertNode, UpsertEdge)
// behave as upserts rather than erroring on duplicates. Deletions of
// non-existent records are not errors.
//
// Implementations must be safe for concurrent use.
type GraphStore interface {
	// UpsertNode inserts or completely replaces the entity with this ID.
	UpsertNode(ctx context.Context, entity Entity) error

	// GetNode retrieves an entity by ID.
	// Returns [ErrNotFound] when the entity does not exist.
	GetNode(ctx context.Context, id string) (*Entity, error)

	// DeleteNode removes the entity and all edges touching it.
	// Deleting a non-existent entity is not an error.
	DeleteNode(ctx context.Context, id string) error

	// FindNodes returns all entities matching filter.
	// Returns an empty (non-nil) slice when no entities match.
	FindNodes(ctx context.Context, filter EntityFilter) ([]Entity, error)

	// UpsertEdge inserts or completely replaces the directed edge identified
	// by (SourceID, TargetID, Type).
	// Returns [ErrEndpointMissing] if either endpoint does not exist in the
	// graph.
	UpsertEdge(ctx context.Context, rel Relationship) error

	// DeleteEdge removes the directed edge identified by (sourceID, targetID,
	// relType). Deleting a non-existent edge is not an error.
	DeleteEdge(ctx context.Context, sourceID, targetID, relType string) error

	// Neighbors performs a breadth-first traversal from entityID up to depth
	// hops and returns all reachable entities (the start entity excluded).
	// [NeighborOpt] options restrict which edge or node types are followed.
	// Returns an empty (non-nil) slice when no neighbours are reachable.
	Neighbors(ctx context.Context, entityID string, depth int, opts ...NeighborOpt) ([]Entity, error)

	// Query returns entities and relationships reachable from any entity
	// matching filter, up to depth hops — a combined filtered-lookup-plus-
	// traversal convenience used by the hybrid LTM's graph-first and
	// parallel query strategies.
	Query(ctx context.Context, filter EntityFilter, depth int, opts ...NeighborOpt) ([]Entity, []Relationship, error)
}
