// Package embedding defines the Embedder abstraction used to turn turn and
// chunk text into the vectors stored by [github.com/mnemex/mnemex/pkg/memory.VectorStore].
//
// All embedding vectors returned by a single Embedder instance must share the
// same dimensionality (returned by Dimensions). Callers must not mix vectors
// from different Embedder instances in the same similarity computation unless
// both are known to share a model and space.
//
// Implementations must be safe for concurrent use.
package embedding

import "context"

// Embedder is the abstraction over any text-embedding backend.
type Embedder interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or
	// ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings in a
	// single call where the backend supports it, which is typically far more
	// efficient than calling Embed in a loop. The returned slice has the same
	// length as texts and the i-th element corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is cancelled.
	// Partial results are not returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this Embedder. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the backend-specific model identifier, useful for
	// logging and for detecting accidental cross-model mixing.
	ModelID() string
}
