// Package local provides a deterministic, dependency-free [embedding.Embedder]
// for development and testing environments where no real embedding backend
// is configured.
//
// Vectors are derived from a SHA-256 hash of the input text expanded into a
// fixed-length float32 slice and L2-normalized. Embeddings are stable across
// process restarts and require no network access, but carry no semantic
// meaning — cosine similarity between unrelated strings is effectively
// random. Do not use this Embedder for anything beyond local development,
// fixtures, and tests that only need a working pipeline, not meaningful
// recall quality.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/mnemex/mnemex/pkg/embedding"
)

// DefaultDimensions is used when New is called with dims <= 0.
const DefaultDimensions = 256

// Ensure Embedder implements the embedding.Embedder interface.
var _ embedding.Embedder = (*Embedder)(nil)

// Embedder is a hash-seeded, deterministic embedding.Embedder.
type Embedder struct {
	dims int
}

// New constructs a local Embedder producing vectors of the given dimension.
// If dims <= 0, DefaultDimensions is used.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, e.dims), nil
}

// EmbedBatch implements embedding.Embedder.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, e.dims)
	}
	return out, nil
}

// Dimensions implements embedding.Embedder.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// ModelID implements embedding.Embedder.
func (e *Embedder) ModelID() string {
	return "local-hash-v1"
}

// hashEmbed expands a SHA-256 digest of text into dims float32 values via a
// counter-mode keystream, then L2-normalizes the result.
func hashEmbed(text string, dims int) []float32 {
	out := make([]float32, dims)
	var counter uint32
	for i := 0; i < dims; i++ {
		if i%8 == 0 {
			counter++
		}
		h := sha256.New()
		h.Write([]byte(text))
		var ctrBytes [4]byte
		binary.BigEndian.PutUint32(ctrBytes[:], counter)
		h.Write(ctrBytes[:])
		sum := h.Sum(nil)
		slot := (i % 8) * 4
		bits := binary.BigEndian.Uint32(sum[slot : slot+4])
		// Map to [-1, 1).
		out[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out
}
