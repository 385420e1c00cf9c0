// Package mtm implements mid-term memory: a bounded FIFO of summarized
// chunks with cosine and keyword retrieval, and an optional graph mirror.
package mtm

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mnemex/mnemex/pkg/memory"
)

// DefaultMaxChunks is the default MTM capacity.
const DefaultMaxChunks = 100

// GraphMirror is the optional capability MTM uses to mirror each added
// chunk as a Summary-labeled graph node, independent of HybridLTM's own
// graph. See the mnemex project's promotion-policy documentation: MTM's
// mirror and HybridLTM's graph are kept deliberately independent — a chunk
// is only promoted into HybridLTM by an explicit caller action.
type GraphMirror interface {
	// MirrorChunk creates or updates a Summary node for chunk and links it
	// to any entity nodes named in entityIDs.
	MirrorChunk(ctx context.Context, chunk memory.Chunk, entityIDs []string) error
}

// SummaryLabel is the graph node label MTM uses when mirroring a chunk.
const SummaryLabel = "Summary"

// Config tunes a [Memory] instance.
type Config struct {
	// MaxChunks bounds the number of chunks retained. Zero falls back to
	// [DefaultMaxChunks].
	MaxChunks int

	// Mirror, if non-nil, is invoked on every AddChunk to maintain MTM's
	// independent graph mirror.
	Mirror GraphMirror

	// Now overrides the clock used for recency tie-breaking. Defaults to
	// [time.Now].
	Now func() time.Time
}

// Memory is a single conversation's mid-term memory: a capacity-bounded
// FIFO of [memory.Chunk] values.
//
// Memory is safe for concurrent use. AddChunk holds an exclusive lock; reads
// hold a shared lock and snapshot matching chunks before further processing.
type Memory struct {
	mu        sync.RWMutex
	maxChunks int
	mirror    GraphMirror
	now       func() time.Time

	chunks []memory.Chunk
}

// New returns an empty [Memory] configured by cfg.
func New(cfg Config) *Memory {
	maxChunks := cfg.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		maxChunks: maxChunks,
		mirror:    cfg.Mirror,
		now:       now,
		chunks:    make([]memory.Chunk, 0, maxChunks),
	}
}

// AddChunk appends chunk, evicting the oldest entry if capacity is
// exceeded. Removing an evicted chunk has no effect on any HybridLTM
// derivative that may have been promoted from it.
//
// If a [GraphMirror] is configured, entityIDs names the entity nodes this
// chunk's mirror node should link to (e.g. entities extracted from the
// chunk's content by a caller). A mirror failure is logged and does not
// fail AddChunk.
func (m *Memory) AddChunk(ctx context.Context, chunk memory.Chunk, entityIDs ...string) error {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = m.now()
	}

	m.mu.Lock()
	m.chunks = append(m.chunks, chunk)
	if len(m.chunks) > m.maxChunks {
		m.chunks = m.chunks[len(m.chunks)-m.maxChunks:]
	}
	mirror := m.mirror
	m.mu.Unlock()

	if mirror != nil {
		if err := mirror.MirrorChunk(ctx, chunk, entityIDs); err != nil {
			slog.WarnContext(ctx, "mtm: graph mirror failed",
				slog.String("chunk_id", chunk.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// GetRecentChunks returns the last n chunks in insertion order.
func (m *Memory) GetRecentChunks(_ context.Context, n int) ([]memory.Chunk, error) {
	if n < 0 {
		return nil, memory.ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.chunks, n), nil
}

// SearchByEmbedding scores every chunk carrying an embedding by cosine
// similarity against q and returns the top topK. Chunks without an
// embedding score 0.
func (m *Memory) SearchByEmbedding(_ context.Context, q []float32, topK int) ([]memory.Chunk, error) {
	if topK < 0 {
		return nil, memory.ErrInvalidArgument
	}
	m.mu.RLock()
	chunks := append([]memory.Chunk(nil), m.chunks...)
	m.mu.RUnlock()

	type scored struct {
		chunk memory.Chunk
		score float64
	}
	out := make([]scored, len(chunks))
	for i, c := range chunks {
		out[i] = scored{chunk: c, score: cosineSimilarity(c.Embedding, q)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunk.Timestamp.After(out[j].chunk.Timestamp)
	})
	if topK > len(out) {
		topK = len(out)
	}
	result := make([]memory.Chunk, topK)
	for i := 0; i < topK; i++ {
		result[i] = out[i].chunk
	}
	return result, nil
}

// SearchByKeywords scores every chunk by the Jaccard similarity of its
// Topics against keywords and returns the top topK, ties broken by more
// recent Timestamp.
func (m *Memory) SearchByKeywords(_ context.Context, keywords []string, topK int) ([]memory.Chunk, error) {
	if topK < 0 {
		return nil, memory.ErrInvalidArgument
	}
	m.mu.RLock()
	chunks := append([]memory.Chunk(nil), m.chunks...)
	m.mu.RUnlock()

	query := toSet(keywords)

	type scored struct {
		chunk memory.Chunk
		score float64
	}
	out := make([]scored, len(chunks))
	for i, c := range chunks {
		out[i] = scored{chunk: c, score: jaccard(toSet(c.Topics), query)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunk.Timestamp.After(out[j].chunk.Timestamp)
	})
	if topK > len(out) {
		topK = len(out)
	}
	result := make([]memory.Chunk, topK)
	for i := 0; i < topK; i++ {
		result[i] = out[i].chunk
	}
	return result, nil
}

// Len returns the current number of chunks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Clear removes all chunks.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = m.chunks[:0]
}

// All returns every chunk in insertion order, for snapshotting.
func (m *Memory) All() []memory.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]memory.Chunk(nil), m.chunks...)
}

// Restore replaces the current contents with chunks, preserving order and
// truncating to the configured capacity if chunks exceeds it. Used to
// rehydrate a [Memory] from a snapshot.
func (m *Memory) Restore(chunks []memory.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chunks) > m.maxChunks {
		chunks = chunks[len(chunks)-m.maxChunks:]
	}
	m.chunks = append([]memory.Chunk(nil), chunks...)
}

func tail(chunks []memory.Chunk, n int) []memory.Chunk {
	if n <= 0 || len(chunks) == 0 {
		return []memory.Chunk{}
	}
	if n >= len(chunks) {
		return chunks
	}
	return chunks[len(chunks)-n:]
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// jaccard returns |a∩b| / |a∪b|. Returns 0 when both sets are empty.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	union := make(map[string]bool, len(a)+len(b))
	for k := range a {
		union[k] = true
		if b[k] {
			intersection++
		}
	}
	for k := range b {
		union[k] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
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
