package memory

import "time"

// Turn is a single raw conversational exchange as it enters the pipeline —
// the atomic unit of short-term memory.
type Turn struct {
	// ID is the unique identifier for this turn (e.g., a UUID).
	ID string

	// SessionID groups turns belonging to the same conversation.
	SessionID string

	// Role is the speaker role: "user", "assistant", or "system".
	Role string

	// Content is the raw text of the turn.
	Content string

	// Intent is the closed-set classification produced by the preprocessor
	// (code_search, debug, documentation, commit_log, general). Empty until
	// the preprocessor has tagged the turn.
	Intent string

	// Keywords are the salient terms extracted by the preprocessor.
	Keywords []string

	// Embedding is the vector representation of Content, populated by the
	// preprocessor. May be nil for turns not yet embedded.
	Embedding []float32

	// TokenEstimate is the approximate token count of Content, used by the
	// summarizer's importance scoring.
	TokenEstimate int

	// Timestamp is when this turn was recorded.
	Timestamp time.Time
}

// Chunk is a summarized segment of one or more [Turn] records, the atomic
// unit of mid-term memory.
type Chunk struct {
	// ID is the unique identifier for this chunk.
	ID string

	// SessionID is the session this chunk belongs to.
	SessionID string

	// Content is the summarized text.
	Content string

	// SourceTurnIDs lists the turns this chunk was derived from.
	SourceTurnIDs []string

	// Topics is the deduplicated set of keywords extracted from the source
	// turns, used by MTM's keyword search.
	Topics []string

	// Intent carries forward the dominant intent among the source turns.
	Intent string

	// Importance is the chunk's retrieval priority in [0, 1], computed by the
	// summarizer's importance-scoring formula.
	Importance float64

	// Embedding is the vector representation of Content.
	Embedding []float32

	// Timestamp is the Timestamp of the last source turn, as set by the
	// summarizer; MTM stamps the current time only when it is zero.
	Timestamp time.Time
}

// VectorRecord is a single embedded document stored in a [VectorStore] —
// the payload half of hybrid long-term memory.
type VectorRecord struct {
	// ID is the unique identifier for this record. Callers supplying the same
	// ID as an existing record perform an upsert.
	ID string

	// Vector is the embedding. Its length must equal the store's configured
	// dimensionality or [ErrDimensionMismatch] is returned.
	Vector []float32

	// Content is the original text this vector represents.
	Content string

	// Metadata holds arbitrary key/value payload data (category, source,
	// entity linkage) usable as a search filter.
	Metadata map[string]any

	// Timestamp is when this record was added.
	Timestamp time.Time
}

// ScoredVectorRecord pairs a [VectorRecord] with its similarity score against
// a query vector. Higher Score values indicate higher similarity.
type ScoredVectorRecord struct {
	Record VectorRecord
	Score  float64
}

// VectorFilter narrows a vector search to records whose Metadata matches.
// A record matches when every key/value pair in Metadata is present and
// equal in the record's own Metadata.
type VectorFilter struct {
	Metadata map[string]any
}

// EdgeType enumerates the documented, first-class relationship vocabulary.
// GraphStore itself is not closed to this set — a property graph accepts
// arbitrary string types — these constants exist to give callers typo-safety
// for the common cases.
type EdgeType string

const (
	EdgeCalls      EdgeType = "CALLS"
	EdgeBelongsTo  EdgeType = "BELONGS_TO"
	EdgeModifies   EdgeType = "MODIFIES"
	EdgeFixes      EdgeType = "FIXES"
	EdgeAffects    EdgeType = "AFFECTS"
	EdgeDependsOn  EdgeType = "DEPENDS_ON"
	EdgeRelatedTo  EdgeType = "RELATED_TO"
)

// LabelMapping maps a VectorRecord's metadata.category to a graph node
// label when content is promoted from the vector store into the graph.
// An empty or absent entry falls back to DefaultLabel.
type LabelMapping map[string]string

// DefaultLabel is the node label used when LabelMapping has no entry for a
// given category.
const DefaultLabel = "Fact"

// DefaultLabelMapping is the built-in category → label mapping.
var DefaultLabelMapping = LabelMapping{
	"function": "Function",
	"module":   "Module",
	"commit":   "Commit",
	"bug":      "Bug",
	"concept":  "Concept",
	"doc":      "Doc",
}

// Label resolves category to a graph node label using m, falling back to
// [DefaultLabel] when category is unmapped.
func (m LabelMapping) Label(category string) string {
	if l, ok := m[category]; ok && l != "" {
		return l
	}
	return DefaultLabel
}

// Entity is a named node in the knowledge graph half of hybrid long-term
// memory.
type Entity struct {
	// ID is the unique, stable identifier for this entity.
	ID string

	// Label classifies the node (see [LabelMapping]).
	Label string

	// Name is the canonical display name.
	Name string

	// Attributes holds arbitrary key/value metadata.
	Attributes map[string]any

	// CreatedAt is when the entity was first added to the graph.
	CreatedAt time.Time

	// UpdatedAt is when the entity was last modified.
	UpdatedAt time.Time
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	// SourceID is the ID of the originating entity.
	SourceID string

	// TargetID is the ID of the destination entity.
	TargetID string

	// Type is the semantic label of the relationship. See [EdgeType] for the
	// documented vocabulary; arbitrary strings are also accepted.
	Type string

	// Attributes holds additional edge metadata.
	Attributes map[string]any

	// CreatedAt is when this relationship was first added.
	CreatedAt time.Time
}

// EntityFilter specifies predicates for entity lookup queries.
// All non-zero fields are applied as AND conditions.
type EntityFilter struct {
	// Label restricts results to entities with this label. Empty matches all.
	Label string

	// Name restricts results to entities whose name contains this substring
	// (case-insensitive). Empty matches all names.
	Name string

	// AttributeQuery requires every key/value pair to be present in Attributes.
	AttributeQuery map[string]any
}
