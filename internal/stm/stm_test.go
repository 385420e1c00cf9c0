package stm

import (
	"context"
	"testing"
	"time"

	"github.com/mnemex/mnemex/pkg/memory"
)

// fakeClock returns a function suitable for Config.Now that advances only
// when told to, for deterministic TTL tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestAdd_EvictsOldestOverCapacity(t *testing.T) {
	ctx := context.Background()
	m := New(Config{MaxTurns: 3})

	for i := 0; i < 6; i++ {
		if err := m.Add(ctx, memory.Turn{ID: string(rune('A' + i))}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := m.GetRecent(ctx, 10, nil)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	want := []string{"D", "E", "F"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("turn[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestTTL_PurgesExpiredTurns(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := New(Config{MaxTurns: 10, TTL: time.Second, Now: clock.now})

	if err := m.Add(ctx, memory.Turn{ID: "T1"}); err != nil {
		t.Fatalf("Add T1: %v", err)
	}
	clock.advance(1500 * time.Millisecond)
	if err := m.Add(ctx, memory.Turn{ID: "T2"}); err != nil {
		t.Fatalf("Add T2: %v", err)
	}

	got, err := m.GetRecent(ctx, 5, nil)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "T2" {
		t.Fatalf("GetRecent = %+v, want [T2]", got)
	}
}

func TestTTL_ZeroDisablesExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := New(Config{MaxTurns: 10, TTL: 0, Now: clock.now})

	if err := m.Add(ctx, memory.Turn{ID: "T1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	clock.advance(24 * time.Hour)

	got, err := m.GetRecent(ctx, 5, nil)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (TTL disabled)", len(got))
	}
}

func TestGetRecent_EmbeddingOrdering(t *testing.T) {
	ctx := context.Background()
	m := New(Config{MaxTurns: 10})

	axes := [][]float32{
		{1, 0, 0, 0, 0},
		{0, 1, 0, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 1, 0},
		{0, 0, 0, 0, 1},
	}
	for i, e := range axes {
		if err := m.Add(ctx, memory.Turn{ID: string(rune('A' + i)), Embedding: e}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := m.GetRecent(ctx, 1, axes[2])
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "C" {
		t.Fatalf("GetRecent(aligned to e3) = %+v, want [C]", got)
	}
}

func TestGetRecent_MissingEmbeddingScoresZero(t *testing.T) {
	ctx := context.Background()
	m := New(Config{MaxTurns: 10})

	if err := m.Add(ctx, memory.Turn{ID: "no-embed"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(ctx, memory.Turn{ID: "has-embed", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := m.GetRecent(ctx, 2, []float32{1, 0})
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "has-embed" || got[1].ID != "no-embed" {
		t.Fatalf("GetRecent = %+v, want [has-embed, no-embed]", got)
	}
}

func TestSearchByEmbedding_SkipsExpiredTurns(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := New(Config{MaxTurns: 10, TTL: time.Second, Now: clock.now})

	if err := m.Add(ctx, memory.Turn{ID: "stale", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	clock.advance(2 * time.Second)
	if err := m.Add(ctx, memory.Turn{ID: "fresh", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := m.SearchByEmbedding(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("SearchByEmbedding: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("SearchByEmbedding = %+v, want [fresh]", got)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	m := New(Config{MaxTurns: 10})
	_ = m.Add(ctx, memory.Turn{ID: "A"})
	m.Clear(ctx)
	if got := m.Len(); got != 0 {
		t.Errorf("Len after Clear = %d, want 0", got)
	}
}

func TestGetRecent_NegativeNIsInvalidArgument(t *testing.T) {
	ctx := context.Background()
	m := New(Config{MaxTurns: 10})
	if _, err := m.GetRecent(ctx, -1, nil); err != memory.ErrInvalidArgument {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestMaxTurnsOne_AlwaysHoldsOnlyMostRecent(t *testing.T) {
	ctx := context.Background()
	m := New(Config{MaxTurns: 1})
	for i := 0; i < 5; i++ {
		if err := m.Add(ctx, memory.Turn{ID: string(rune('A' + i))}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if got := m.Len(); got != 1 {
			t.Fatalf("Len = %d, want 1", got)
		}
	}
	got, _ := m.GetRecent(ctx, 5, nil)
	if len(got) != 1 || got[0].ID != "E" {
		t.Fatalf("GetRecent = %+v, want [E]", got)
	}
}
