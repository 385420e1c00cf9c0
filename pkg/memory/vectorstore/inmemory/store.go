// Package inmemory provides a process-local [memory.VectorStore] backed by a
// linear cosine-similarity scan. It requires no external dependency and is
// suitable for development, tests, and single-process deployments where the
// working set comfortably fits in memory.
package inmemory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mnemex/mnemex/pkg/memory"
)

// Compile-time interface check.
var _ memory.VectorStore = (*Store)(nil)

// Store is an in-memory [memory.VectorStore]. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	dims    int
	records map[string]memory.VectorRecord
}

// New returns an empty Store configured for vectors of length dims.
func New(dims int) *Store {
	return &Store{dims: dims, records: make(map[string]memory.VectorRecord)}
}

// Add implements [memory.VectorStore].
func (s *Store) Add(_ context.Context, record memory.VectorRecord) error {
	if len(record.Vector) != s.dims {
		return fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(record.Vector), s.dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	vec := make([]float32, len(record.Vector))
	copy(vec, record.Vector)
	record.Vector = vec
	s.records[record.ID] = record
	return nil
}

// Get implements [memory.VectorStore].
func (s *Store) Get(_ context.Context, id string) (*memory.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	out := rec
	return &out, nil
}

// Delete implements [memory.VectorStore].
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Search implements [memory.VectorStore].
func (s *Store) Search(_ context.Context, query []float32, topK int, filter memory.VectorFilter) ([]memory.ScoredVectorRecord, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(query), s.dims)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", memory.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]memory.ScoredVectorRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !matchesFilter(rec, filter) {
			continue
		}
		scored = append(scored, memory.ScoredVectorRecord{
			Record: rec,
			Score:  cosineSimilarity(query, rec.Vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Dimensions implements [memory.VectorStore].
func (s *Store) Dimensions() int {
	return s.dims
}

func matchesFilter(rec memory.VectorRecord, filter memory.VectorFilter) bool {
	for k, want := range filter.Metadata {
		got, ok := rec.Metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
