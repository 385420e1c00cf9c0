// Package stm implements short-term memory: a bounded, TTL-bounded FIFO of
// recent conversational turns with cosine-similarity retrieval.
package stm

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mnemex/mnemex/pkg/memory"
)

const (
	// DefaultMaxTurns is the default STM capacity.
	DefaultMaxTurns = 10

	// DefaultTTL is the default turn lifetime before lazy expiry.
	DefaultTTL = time.Hour
)

// Config tunes a [Memory] instance.
type Config struct {
	// MaxTurns bounds the number of turns retained. Zero falls back to
	// [DefaultMaxTurns].
	MaxTurns int

	// TTL bounds how long a turn survives before lazy expiry. Zero disables
	// TTL-based eviction.
	TTL time.Duration

	// Now overrides the clock used to stamp and expire turns. Defaults to
	// [time.Now]; tests inject a controllable clock.
	Now func() time.Time
}

// Memory is a single conversation's short-term memory: a capacity- and
// TTL-bounded FIFO of [memory.Turn] values.
//
// Memory is safe for concurrent use. Add, GetRecent and SearchByEmbedding
// hold the exclusive lock, since each purges expired turns first; the reads
// snapshot the live turns and score them after releasing it. Len and All
// hold the shared lock.
type Memory struct {
	mu       sync.RWMutex
	maxTurns int
	ttl      time.Duration
	now      func() time.Time

	turns []memory.Turn
}

// New returns an empty [Memory] configured by cfg.
func New(cfg Config) *Memory {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		maxTurns: maxTurns,
		ttl:      cfg.TTL,
		now:      now,
		turns:    make([]memory.Turn, 0, maxTurns),
	}
}

// Add appends turn, stamping its Timestamp with the configured clock and
// evicting the oldest entry if capacity is exceeded.
func (m *Memory) Add(_ context.Context, turn memory.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked()

	turn.Timestamp = m.now()
	m.turns = append(m.turns, turn)
	if len(m.turns) > m.maxTurns {
		m.turns = m.turns[len(m.turns)-m.maxTurns:]
	}
	return nil
}

// GetRecent returns the n most relevant live turns.
//
// If queryEmbedding is nil, the last n turns are returned in insertion
// order. If queryEmbedding is non-nil, every live turn is scored by cosine
// similarity against it and the top n are returned, ties broken by more
// recent Timestamp. Turns without an embedding score 0 and are only
// returned to fill out n.
func (m *Memory) GetRecent(_ context.Context, n int, queryEmbedding []float32) ([]memory.Turn, error) {
	if n < 0 {
		return nil, memory.ErrInvalidArgument
	}

	m.mu.Lock()
	m.expireLocked()
	live := append([]memory.Turn(nil), m.turns...)
	m.mu.Unlock()

	if queryEmbedding == nil {
		return tail(live, n), nil
	}
	return topNByScore(live, queryEmbedding, n), nil
}

// SearchByEmbedding scores every live turn by cosine similarity against q and
// returns the top topK. Expired turns are skipped (and lazily purged) rather
// than erroring.
func (m *Memory) SearchByEmbedding(_ context.Context, q []float32, topK int) ([]memory.Turn, error) {
	if topK < 0 {
		return nil, memory.ErrInvalidArgument
	}

	m.mu.Lock()
	m.expireLocked()
	live := append([]memory.Turn(nil), m.turns...)
	m.mu.Unlock()

	return topNByScore(live, q, topK), nil
}

// Expire purges turns whose age exceeds the configured TTL. It is called
// automatically at the entry of Add, GetRecent and SearchByEmbedding (not by
// Len or All); exported so
// callers (e.g. a background sweeper) may invoke it proactively.
func (m *Memory) Expire(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked()
}

// expireLocked removes expired turns. Caller must hold m.mu for writing.
func (m *Memory) expireLocked() {
	if m.ttl <= 0 || len(m.turns) == 0 {
		return
	}
	now := m.now()
	live := m.turns[:0:0]
	for _, t := range m.turns {
		if now.Sub(t.Timestamp) <= m.ttl {
			live = append(live, t)
		}
	}
	m.turns = live
}

// Clear removes all turns.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:0]
}

// Len returns the current number of live turns without expiring or scoring.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// All returns every live turn in insertion order, for snapshotting. Unlike
// GetRecent it does not trigger lazy expiry, so a snapshot reflects exactly
// what the next read would see absent this call.
func (m *Memory) All() []memory.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]memory.Turn(nil), m.turns...)
}

// Restore replaces the current contents with turns, preserving order and
// truncating to the configured capacity if turns exceeds it. Used to
// rehydrate a [Memory] from a snapshot.
func (m *Memory) Restore(turns []memory.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(turns) > m.maxTurns {
		turns = turns[len(turns)-m.maxTurns:]
	}
	m.turns = append([]memory.Turn(nil), turns...)
}

// tail returns the last n elements of turns, in order. n <= 0 returns an
// empty (non-nil) slice.
func tail(turns []memory.Turn, n int) []memory.Turn {
	if n <= 0 || len(turns) == 0 {
		return []memory.Turn{}
	}
	if n >= len(turns) {
		return turns
	}
	return turns[len(turns)-n:]
}

// scored pairs a turn with its similarity against a query embedding.
type scored struct {
	turn  memory.Turn
	score float64
}

// topNByScore scores every turn by cosine similarity against q and returns
// the top n, descending by score, ties broken by more recent Timestamp.
func topNByScore(turns []memory.Turn, q []float32, n int) []memory.Turn {
	if n <= 0 {
		return []memory.Turn{}
	}
	scoredTurns := make([]scored, len(turns))
	for i, t := range turns {
		scoredTurns[i] = scored{turn: t, score: cosineSimilarity(t.Embedding, q)}
	}
	sort.SliceStable(scoredTurns, func(i, j int) bool {
		if scoredTurns[i].score != scoredTurns[j].score {
			return scoredTurns[i].score > scoredTurns[j].score
		}
		return scoredTurns[i].turn.Timestamp.After(scoredTurns[j].turn.Timestamp)
	})
	if n > len(scoredTurns) {
		n = len(scoredTurns)
	}
	out := make([]memory.Turn, n)
	for i := 0; i < n; i++ {
		out[i] = scoredTurns[i].turn
	}
	return out
}

// cosineSimilarity returns the cosine similarity of a and b. Returns 0 if
// either vector is empty, nil, or of mismatched length — an absent embedding
// is treated as maximally dissimilar rather than an error.
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
