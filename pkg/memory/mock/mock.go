// Package mock provides in-memory test doubles for the memory layer interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.VectorStore{}
//	store.SearchResult = []memory.ScoredVectorRecord{{Record: memory.VectorRecord{ID: "a"}, Score: 0.9}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/mnemex/mnemex/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// VectorStore mock
// ─────────────────────────────────────────────────────────────────────────────

// VectorStore is a configurable test double for [memory.VectorStore].
// All exported *Err fields default to nil (success). A nil SearchResult makes
// Search return an empty slice; a nil GetResult makes Get return nil.
type VectorStore struct {
	mu sync.Mutex

	calls []Call

	AddErr error

	GetResult *memory.VectorRecord
	GetErr    error

	DeleteErr error

	SearchResult []memory.ScoredVectorRecord
	SearchErr    error

	DimensionsResult int
}

// Calls returns a copy of all recorded method invocations.
func (m *VectorStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *VectorStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *VectorStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Add implements [memory.VectorStore].
func (m *VectorStore) Add(_ context.Context, record memory.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Add", Args: []any{record}})
	return m.AddErr
}

// Get implements [memory.VectorStore].
func (m *VectorStore) Get(_ context.Context, id string) (*memory.VectorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Get", Args: []any{id}})
	return m.GetResult, m.GetErr
}

// Delete implements [memory.VectorStore].
func (m *VectorStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{id}})
	return m.DeleteErr
}

// Search implements [memory.VectorStore].
func (m *VectorStore) Search(_ context.Context, query []float32, topK int, filter memory.VectorFilter) ([]memory.ScoredVectorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Search", Args: []any{query, topK, filter}})
	if m.SearchResult == nil {
		return []memory.ScoredVectorRecord{}, m.SearchErr
	}
	out := make([]memory.ScoredVectorRecord, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// Dimensions implements [memory.VectorStore].
func (m *VectorStore) Dimensions() int {
	return m.DimensionsResult
}

// Ensure VectorStore satisfies the interface at compile time.
var _ memory.VectorStore = (*VectorStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// GraphStore mock
// ─────────────────────────────────────────────────────────────────────────────

// GraphStore is a configurable test double for [memory.GraphStore].
// Each method returns its *Err field. Methods that return data also return
// their configured result fields (GetNodeResult, FindNodesResult,
// NeighborsResult, QueryEntities and QueryRelationships) alongside that
// error.
type GraphStore struct {
	mu sync.Mutex

	calls []Call

	UpsertNodeErr error

	GetNodeResult *memory.Entity
	GetNodeErr    error

	DeleteNodeErr error

	FindNodesResult []memory.Entity
	FindNodesErr    error

	UpsertEdgeErr error

	DeleteEdgeErr error

	NeighborsResult []memory.Entity
	NeighborsErr    error

	QueryEntities      []memory.Entity
	QueryRelationships []memory.Relationship
	QueryErr           error
}

// Calls returns a copy of all recorded method invocations.
func (m *GraphStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *GraphStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *GraphStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// UpsertNode implements [memory.GraphStore].
func (m *GraphStore) UpsertNode(_ context.Context, entity memory.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpsertNode", Args: []any{entity}})
	return m.UpsertNodeErr
}

// GetNode implements [memory.GraphStore].
func (m *GraphStore) GetNode(_ context.Context, id string) (*memory.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "GetNode", Args: []any{id}})
	return m.GetNodeResult, m.GetNodeErr
}

// DeleteNode implements [memory.GraphStore].
func (m *GraphStore) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteNode", Args: []any{id}})
	return m.DeleteNodeErr
}

// FindNodes implements [memory.GraphStore].
func (m *GraphStore) FindNodes(_ context.Context, filter memory.EntityFilter) ([]memory.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "FindNodes", Args: []any{filter}})
	if m.FindNodesResult == nil {
		return []memory.Entity{}, m.FindNodesErr
	}
	out := make([]memory.Entity, len(m.FindNodesResult))
	copy(out, m.FindNodesResult)
	return out, m.FindNodesErr
}

// UpsertEdge implements [memory.GraphStore].
func (m *GraphStore) UpsertEdge(_ context.Context, rel memory.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpsertEdge", Args: []any{rel}})
	return m.UpsertEdgeErr
}

// DeleteEdge implements [memory.GraphStore].
func (m *GraphStore) DeleteEdge(_ context.Context, sourceID, targetID, relType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteEdge", Args: []any{sourceID, targetID, relType}})
	return m.DeleteEdgeErr
}

// Neighbors implements [memory.GraphStore].
func (m *GraphStore) Neighbors(_ context.Context, entityID string, depth int, opts ...memory.NeighborOpt) ([]memory.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Neighbors", Args: []any{entityID, depth, opts}})
	if m.NeighborsResult == nil {
		return []memory.Entity{}, m.NeighborsErr
	}
	out := make([]memory.Entity, len(m.NeighborsResult))
	copy(out, m.NeighborsResult)
	return out, m.NeighborsErr
}

// Query implements [memory.GraphStore].
func (m *GraphStore) Query(_ context.Context, filter memory.EntityFilter, depth int, opts ...memory.NeighborOpt) ([]memory.Entity, []memory.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{filter, depth, opts}})

	entities := m.QueryEntities
	if entities == nil {
		entities = []memory.Entity{}
	} else {
		out := make([]memory.Entity, len(entities))
		copy(out, entities)
		entities = out
	}

	rels := m.QueryRelationships
	if rels == nil {
		rels = []memory.Relationship{}
	} else {
		out := make([]memory.Relationship, len(rels))
		copy(out, rels)
		rels = out
	}

	return entities, rels, m.QueryErr
}

// Ensure GraphStore satisfies the interface at compile time.
var _ memory.GraphStore = (*GraphStore)(nil)
