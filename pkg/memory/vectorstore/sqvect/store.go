// Package sqvect provides a [memory.VectorStore] backed by an embedded
// SQLite database via github.com/liliang-cn/sqvect/v2. It is the durable,
// single-process alternative to pkg/memory/vectorstore/inmemory for
// deployments that want persistence without standing up Postgres.
package sqvect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/liliang-cn/sqvect/v2/pkg/core"
	sqvectdb "github.com/liliang-cn/sqvect/v2/pkg/sqvect"

	"github.com/mnemex/mnemex/pkg/memory"
)

// metadataKey is the single sqvect.Embedding.Metadata key under which a
// record's full JSON-encoded memory.VectorRecord.Metadata map is stored.
// sqvect's Metadata type is map[string]string; memory.VectorRecord's is
// map[string]any, so the whole map is serialized rather than flattened.
const metadataKey = "mnemex_json"

// Compile-time interface check.
var _ memory.VectorStore = (*Store)(nil)

// Store is a sqvect-backed [memory.VectorStore]. Safe for concurrent use —
// the underlying *sqvectdb.DB serializes access internally.
type Store struct {
	db   *sqvectdb.DB
	dims int
}

// Open opens or creates a sqvect database at path, configured for vectors of
// length dims.
func Open(path string, dims int) (*Store, error) {
	cfg := sqvectdb.DefaultConfig(path)
	cfg.Dimensions = dims
	cfg.IndexType = core.IndexTypeHNSW

	db, err := sqvectdb.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore/sqvect: open %q: %w", path, err)
	}
	return &Store{db: db, dims: dims}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add implements [memory.VectorStore].
func (s *Store) Add(ctx context.Context, record memory.VectorRecord) error {
	if len(record.Vector) != s.dims {
		return fmt.Errorf("%w: got %d, want %d", memory.ErrDimensionMismatch, len(record.Vector), s.dims)
	}

	encoded, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("vectorstore/sqvect: marshal metadata: %w", err)
	}

	emb := &core.Embedding{
		ID:       record.ID,
		Vector:   record.Vector,
		Content:  record.Content,
		Metadata: map[string]string{metadataKey: string(encoded)},
	}
	if err := s.db.Vector().Upsert(ctx, emb); err != nil {
		return fmt.Errorf("vectorstore/sqvect: upsert: %w", err)
	}
	return nil
}

// byIDGetter is the subset of *core.SQLiteStore's concrete API that exposes
// a direct primary-key lookup; core.Store (the interface returned by
// db.Vector()) does not declare it, so it is reached via type assertion.
type byIDGetter interface {
	GetByID(ctx context.Context, id string) (*core.Embedding, error)
}

// Get implements [memory.VectorStore].
func (s *Store) Get(ctx context.Context, id string) (*memory.VectorRecord, error) {
	getter, ok := s.db.Vector().(byIDGetter)
	if !ok {
		return nil, fmt.Errorf("vectorstore/sqvect: underlying store does not support GetByID")
	}
	emb, err := getter.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, memory.ErrNotFound
		}
		return nil, fmt.Errorf("vectorstore/sqvect: get %q: %w", id, err)
	}
	return toRecord(*emb)
}

// Delete implements [memory.VectorStore]. Deleting a non-existent record is
// not an error, matching the interface contract even though the underlying
// sqvect store reports ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.Vector().Delete(ctx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("vectorstore/sqvect: delete %q: %w", id, err)
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

	results, err := s.db.Vector().Search(ctx, query, core.SearchOptions{TopK: topK * filterOverfetch(filter)})
	if err != nil {
		return nil, fmt.Errorf("vectorstore/sqvect: search: %w", err)
	}

	out := make([]memory.ScoredVectorRecord, 0, len(results))
	for _, r := range results {
		rec, err := toRecord(r.Embedding)
		if err != nil {
			return nil, err
		}
		if !matchesFilter(*rec, filter) {
			continue
		}
		out = append(out, memory.ScoredVectorRecord{Record: *rec, Score: r.Score})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

// Dimensions implements [memory.VectorStore].
func (s *Store) Dimensions() int {
	return s.dims
}

// filterOverfetch widens the sqvect-level TopK when a metadata filter is
// applied post-hoc in Go, since sqvect's own filter operates on the flat
// string-keyed Metadata map rather than mnemex's arbitrary-value one.
func filterOverfetch(filter memory.VectorFilter) int {
	if len(filter.Metadata) == 0 {
		return 1
	}
	return 10
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

func toRecord(emb core.Embedding) (*memory.VectorRecord, error) {
	metadata := map[string]any{}
	if raw, ok := emb.Metadata[metadataKey]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("vectorstore/sqvect: unmarshal metadata: %w", err)
		}
	}
	return &memory.VectorRecord{
		ID:       emb.ID,
		Vector:   emb.Vector,
		Content:  emb.Content,
		Metadata: metadata,
	}, nil
}
