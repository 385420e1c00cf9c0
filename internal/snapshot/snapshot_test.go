package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mnemex/mnemex/pkg/memory"
)

type fakeStore struct {
	turns    []memory.Turn
	chunks   []memory.Chunk
	counters Counters
}

func (f *fakeStore) SnapshotTurns() []memory.Turn   { return f.turns }
func (f *fakeStore) SnapshotChunks() []memory.Chunk { return f.chunks }
func (f *fakeStore) SnapshotCounters() Counters      { return f.counters }
func (f *fakeStore) RestoreTurns(t []memory.Turn)    { f.turns = t }
func (f *fakeStore) RestoreChunks(c []memory.Chunk)  { f.chunks = c }
func (f *fakeStore) RestoreCounters(c Counters)       { f.counters = c }

func TestSaveLoad_RoundTrip(t *testing.T) {
	src := &fakeStore{
		turns: []memory.Turn{
			{ID: "t1", Role: "user", Content: "hello"},
			{ID: "t2", Role: "assistant", Content: "world"},
		},
		chunks: []memory.Chunk{
			{ID: "c1", Content: "summary one"},
		},
		counters: Counters{TurnsSinceLastSummary: 3},
	}

	path := filepath.Join(t.TempDir(), "snap.json")
	ctx := context.Background()

	if err := Save(ctx, path, src, 16); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := &fakeStore{}
	loaded, err := Load(ctx, path, dst)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded {
		t.Fatal("Load: want loaded=true")
	}

	if len(dst.turns) != 2 || dst.turns[0].ID != "t1" || dst.turns[1].ID != "t2" {
		t.Errorf("turns = %+v, want order-preserved t1,t2", dst.turns)
	}
	if len(dst.chunks) != 1 || dst.chunks[0].ID != "c1" {
		t.Errorf("chunks = %+v, want [c1]", dst.chunks)
	}
	if dst.counters.TurnsSinceLastSummary != 3 {
		t.Errorf("counters = %+v, want TurnsSinceLastSummary=3", dst.counters)
	}
}

func TestLoad_MissingFileFallsBackToFreshState(t *testing.T) {
	dst := &fakeStore{turns: []memory.Turn{{ID: "preexisting"}}}
	loaded, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"), dst)
	if err != nil {
		t.Fatalf("Load: want nil error for missing file, got %v", err)
	}
	if loaded {
		t.Error("Load: want loaded=false for missing file")
	}
	if len(dst.turns) != 1 || dst.turns[0].ID != "preexisting" {
		t.Errorf("turns = %+v, want untouched", dst.turns)
	}
}

func TestLoad_MalformedJSONReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(context.Background(), path, &fakeStore{})
	if err == nil {
		t.Fatal("Load: want error for malformed JSON")
	}
}

func TestLoad_UnsupportedVersionReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"stm":[],"mtm":[],"counters":{"turns_since_last_summary":0},"embedding_dim":8}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(context.Background(), path, &fakeStore{})
	if err == nil {
		t.Fatal("Load: want error for unsupported version")
	}
}
