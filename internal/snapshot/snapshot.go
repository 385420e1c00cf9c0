// Package snapshot persists and restores the durable tier state (STM, MTM,
// and promotion counters) as a single JSON document. VectorStore and
// GraphStore persist themselves through their own backends; the snapshot
// only covers in-process state.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mnemex/mnemex/pkg/memory"
)

// CurrentVersion is written by [Save] and checked by [Load].
const CurrentVersion = 1

// Counters carries promotion bookkeeping that must survive a restart.
type Counters struct {
	TurnsSinceLastSummary int `json:"turns_since_last_summary"`
}

// Document is the JSON-shaped persisted document.
type Document struct {
	Version      int            `json:"version"`
	STM          []memory.Turn  `json:"stm"`
	MTM          []memory.Chunk `json:"mtm"`
	Counters     Counters       `json:"counters"`
	EmbeddingDim int            `json:"embedding_dim"`
}

// Source supplies the live state a [Save] call serializes. An
// *orchestrator.Orchestrator satisfies this directly.
type Source interface {
	SnapshotTurns() []memory.Turn
	SnapshotChunks() []memory.Chunk
	SnapshotCounters() Counters
}

// Sink receives the state a [Load] call restores. An
// *orchestrator.Orchestrator satisfies this directly.
type Sink interface {
	RestoreTurns(turns []memory.Turn)
	RestoreChunks(chunks []memory.Chunk)
	RestoreCounters(c Counters)
}

// Save serializes src into a [Document] and writes it to path as JSON.
func Save(_ context.Context, path string, src Source, embeddingDim int) error {
	doc := Document{
		Version:      CurrentVersion,
		STM:          src.SnapshotTurns(),
		MTM:          src.SnapshotChunks(),
		Counters:     src.SnapshotCounters(),
		EmbeddingDim: embeddingDim,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write file: %w", err)
	}
	return nil
}

// Load reads path and restores its contents into dst.
//
// A missing snapshot is not treated as fatal: Load returns (false, nil) and
// leaves dst untouched, so the caller falls back to a fresh state. A file
// that is present but cannot be read, is not valid JSON, or carries an
// unsupported version returns an error (wrapping [memory.ErrSchemaValidation]
// for the last two) and also leaves dst untouched.
func Load(_ context.Context, path string, dst Sink) (loaded bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("snapshot: read file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("snapshot: unmarshal: %w: %w", memory.ErrSchemaValidation, err)
	}
	if doc.Version != CurrentVersion {
		return false, fmt.Errorf("snapshot: %w: unsupported version %d", memory.ErrSchemaValidation, doc.Version)
	}

	dst.RestoreTurns(doc.STM)
	dst.RestoreChunks(doc.MTM)
	dst.RestoreCounters(doc.Counters)
	return true, nil
}
