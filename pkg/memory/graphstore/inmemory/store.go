// Package inmemory provides a process-local [memory.GraphStore] backed by
// plain Go maps. It requires no external dependency and is suitable for
// development, tests, and single-process deployments.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemex/mnemex/pkg/memory"
)

// Compile-time interface check.
var _ memory.GraphStore = (*Store)(nil)

type edgeKey struct {
	source, target, relType string
}

// Store is an in-memory [memory.GraphStore]. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]memory.Entity
	edges map[edgeKey]memory.Relationship
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nodes: make(map[string]memory.Entity),
		edges: make(map[edgeKey]memory.Relationship),
	}
}

// UpsertNode implements [memory.GraphStore].
func (s *Store) UpsertNode(_ context.Context, entity memory.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[entity.ID]; ok {
		entity.CreatedAt = existing.CreatedAt
	} else if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}
	entity.UpdatedAt = time.Now()
	if entity.Attributes == nil {
		entity.Attributes = map[string]any{}
	}
	s.nodes[entity.ID] = entity
	return nil
}

// GetNode implements [memory.GraphStore].
func (s *Store) GetNode(_ context.Context, id string) (*memory.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	out := e
	return &out, nil
}

// DeleteNode implements [memory.GraphStore]. Edges touching id are removed too.
func (s *Store) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	for k := range s.edges {
		if k.source == id || k.target == id {
			delete(s.edges, k)
		}
	}
	return nil
}

// FindNodes implements [memory.GraphStore].
func (s *Store) FindNodes(_ context.Context, filter memory.EntityFilter) ([]memory.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]memory.Entity, 0)
	for _, e := range s.nodes {
		if matchesEntityFilter(e, filter) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func matchesEntityFilter(e memory.Entity, filter memory.EntityFilter) bool {
	if filter.Label != "" && e.Label != filter.Label {
		return false
	}
	if filter.Name != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(filter.Name)) {
		return false
	}
	for k, want := range filter.AttributeQuery {
		got, ok := e.Attributes[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// UpsertEdge implements [memory.GraphStore].
func (s *Store) UpsertEdge(_ context.Context, rel memory.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[rel.SourceID]; !ok {
		return memory.ErrEndpointMissing
	}
	if _, ok := s.nodes[rel.TargetID]; !ok {
		return memory.ErrEndpointMissing
	}

	key := edgeKey{rel.SourceID, rel.TargetID, rel.Type}
	if existing, ok := s.edges[key]; ok {
		rel.CreatedAt = existing.CreatedAt
	} else if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	if rel.Attributes == nil {
		rel.Attributes = map[string]any{}
	}
	s.edges[key] = rel
	return nil
}

// DeleteEdge implements [memory.GraphStore].
func (s *Store) DeleteEdge(_ context.Context, sourceID, targetID, relType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeKey{sourceID, targetID, relType})
	return nil
}

// Neighbors implements [memory.GraphStore] via breadth-first traversal over
// the in-memory adjacency, tracking visited node IDs to avoid cycles.
func (s *Store) Neighbors(_ context.Context, entityID string, depth int, opts ...memory.NeighborOpt) ([]memory.Entity, error) {
	relTypes, nodeTypes, incoming, outgoing, maxNodes := memory.ApplyNeighborOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var result []memory.Entity

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range s.adjacent(id, relTypes, incoming, outgoing) {
				if visited[nb] {
					continue
				}
				node, ok := s.nodes[nb]
				if !ok {
					continue
				}
				if len(nodeTypes) > 0 && !containsStr(nodeTypes, node.Label) {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
				result = append(result, node)
				if maxNodes > 0 && len(result) >= maxNodes {
					return result, nil
				}
			}
		}
		frontier = next
	}

	if result == nil {
		result = []memory.Entity{}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// adjacent returns the node IDs reachable from id via a single edge matching
// relTypes and the requested direction.
func (s *Store) adjacent(id string, relTypes []string, incoming, outgoing bool) []string {
	var out []string
	for k := range s.edges {
		if len(relTypes) > 0 && !containsStr(relTypes, k.relType) {
			continue
		}
		if outgoing && k.source == id {
			out = append(out, k.target)
		}
		if incoming && k.target == id {
			out = append(out, k.source)
		}
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Query implements [memory.GraphStore]. It finds seed entities matching
// filter, then performs the same traversal as [Store.Neighbors] from each
// seed, returning the union of seeds, reached entities, and every edge
// touching two entities in that union.
func (s *Store) Query(ctx context.Context, filter memory.EntityFilter, depth int, opts ...memory.NeighborOpt) ([]memory.Entity, []memory.Relationship, error) {
	seeds, err := s.FindNodes(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("graphstore/inmemory: query: %w", err)
	}
	if len(seeds) == 0 {
		return []memory.Entity{}, []memory.Relationship{}, nil
	}

	entitiesByID := make(map[string]memory.Entity)
	for _, e := range seeds {
		entitiesByID[e.ID] = e
	}
	for _, seed := range seeds {
		neighbors, err := s.Neighbors(ctx, seed.ID, depth, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("graphstore/inmemory: query: %w", err)
		}
		for _, n := range neighbors {
			entitiesByID[n.ID] = n
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var rels []memory.Relationship
	for k, rel := range s.edges {
		if _, sok := entitiesByID[k.source]; sok {
			if _, tok := entitiesByID[k.target]; tok {
				rels = append(rels, rel)
			}
		}
	}

	entities := make([]memory.Entity, 0, len(entitiesByID))
	for _, e := range entitiesByID {
		entities = append(entities, e)
	}
	if rels == nil {
		rels = []memory.Relationship{}
	}
	return entities, rels, nil
}
