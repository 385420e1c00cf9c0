// Package hybridltm implements the hybrid long-term memory coordinator: a
// VectorStore and a GraphStore linked by bidirectional IDs, queried through
// five strategies.
package hybridltm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemex/mnemex/pkg/embedding"
	"github.com/mnemex/mnemex/pkg/memory"
)

// Strategy selects how [Memory.Query] combines the vector store and graph
// store to answer a query.
type Strategy int

const (
	// strategyUnspecified is the zero value, reserved so callers who forget
	// to set a [Strategy] get "unknown" rather than silently running
	// VectorOnly.
	strategyUnspecified Strategy = iota

	// VectorOnly searches the vector store and returns matches directly.
	VectorOnly

	// GraphOnly runs a parameterized graph query and returns nodes and edges.
	GraphOnly

	// VectorFirst searches the vector store, then expands each match's
	// linked graph entity by neighbor traversal.
	VectorFirst

	// GraphFirst runs a graph query, then enriches each matched node's
	// linked vector record's content.
	GraphFirst

	// Parallel runs VectorStore.Search and GraphStore.Query concurrently and
	// joins results by shared ID.
	Parallel
)

// String returns the strategy's canonical lowercase name.
func (s Strategy) String() string {
	switch s {
	case VectorOnly:
		return "vector_only"
	case GraphOnly:
		return "graph_only"
	case VectorFirst:
		return "vector_first"
	case GraphFirst:
		return "graph_first"
	case Parallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// GraphLink is a declared edge to create from a newly ingested entity to
// another (possibly not-yet-existing) entity.
type GraphLink struct {
	// Type is the edge's relationship type (see [memory.EdgeType]).
	Type string

	// Target is the target entity's ID. If no entity with this ID exists, a
	// placeholder node is created with ID and Name set to Target and Label
	// set to [memory.DefaultLabel]; the label is not inferred from the ID.
	Target string

	// Properties holds additional edge metadata.
	Properties map[string]any
}

// IngestMetadata carries the structural metadata accompanying a piece of
// ingested content.
type IngestMetadata struct {
	// Category drives the node label via [memory.LabelMapping]; unmapped
	// categories default to [memory.DefaultLabel].
	Category string

	Tags       []string
	FilePath   string
	LineStart  int
	LineEnd    int
	Importance float64
	ProjectID  string

	// GraphLinks declares edges to create from the new entity. Each link is
	// best-effort: a failure logs a non-fatal warning and does not roll back
	// the main insertion.
	GraphLinks []GraphLink
}

// toAttributes flattens m into a graph node's Attributes map.
func (m IngestMetadata) toAttributes() map[string]any {
	attrs := map[string]any{}
	if len(m.Tags) > 0 {
		attrs["tags"] = m.Tags
	}
	if m.FilePath != "" {
		attrs["file_path"] = m.FilePath
	}
	if m.LineStart != 0 {
		attrs["line_start"] = m.LineStart
	}
	if m.LineEnd != 0 {
		attrs["line_end"] = m.LineEnd
	}
	if m.Importance != 0 {
		attrs["importance"] = m.Importance
	}
	if m.ProjectID != "" {
		attrs["project_id"] = m.ProjectID
	}
	return attrs
}

// toPayload flattens m into a vector record's Metadata map.
func (m IngestMetadata) toPayload() map[string]any {
	payload := m.toAttributes()
	if m.Category != "" {
		payload["category"] = m.Category
	}
	return payload
}

// Config tunes a [Memory] instance.
type Config struct {
	VectorStore memory.VectorStore
	GraphStore  memory.GraphStore
	Embedder    embedding.Embedder

	// Labels resolves Metadata.Category to a graph node label. Defaults to
	// [memory.DefaultLabelMapping].
	Labels memory.LabelMapping

	// ExpandDepth bounds VectorFirst's neighbor traversal depth. Defaults to 1.
	ExpandDepth int

	// IDGenerator produces new entity/vector IDs. Defaults to a random UUID
	// generator.
	IDGenerator func() string

	// Now overrides the clock used to stamp new vector records. Defaults to
	// [time.Now].
	Now func() time.Time
}

// Memory is the hybrid long-term memory coordinator.
type Memory struct {
	vectors     memory.VectorStore
	graph       memory.GraphStore
	embedder    embedding.Embedder
	labels      memory.LabelMapping
	expandDepth int
	newID       func() string
	now         func() time.Time
}

// New returns a [Memory] coordinating cfg's VectorStore and GraphStore.
func New(cfg Config) *Memory {
	labels := cfg.Labels
	if labels == nil {
		labels = memory.DefaultLabelMapping
	}
	depth := cfg.ExpandDepth
	if depth <= 0 {
		depth = 1
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = newRandomID
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		vectors:     cfg.VectorStore,
		graph:       cfg.GraphStore,
		embedder:    cfg.Embedder,
		labels:      labels,
		expandDepth: depth,
		newID:       newID,
		now:         now,
	}
}

// AddResult is returned by [Memory.Add].
type AddResult struct {
	VectorID      string
	GraphEntityID string
}

// Add ingests content and metadata into both stores, linking them
// bidirectionally.
//
// Steps 2-4 (node creation, vector insertion, node back-link update) either
// all succeed or leave no orphan record: if vector insertion fails after
// node creation, the node is deleted; if the node back-link update fails,
// both the node and the vector record are deleted. Declared GraphLinks
// (step 5) are best-effort and never roll back the main insertion.
func (m *Memory) Add(ctx context.Context, content string, metadata IngestMetadata) (AddResult, error) {
	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return AddResult{}, fmt.Errorf("hybridltm: embed: %w", err)
	}

	entityID := m.newID()
	label := m.labels.Label(metadata.Category)
	entity := memory.Entity{
		ID:         entityID,
		Label:      label,
		Name:       content,
		Attributes: metadata.toAttributes(),
	}
	if err := m.graph.UpsertNode(ctx, entity); err != nil {
		return AddResult{}, fmt.Errorf("hybridltm: create node: %w", err)
	}

	vectorID := m.newID()
	payload := metadata.toPayload()
	payload["graph_entity_id"] = entityID
	record := memory.VectorRecord{
		ID:        vectorID,
		Vector:    vec,
		Content:   content,
		Metadata:  payload,
		Timestamp: m.now(),
	}
	if err := m.vectors.Add(ctx, record); err != nil {
		_ = m.graph.DeleteNode(ctx, entityID)
		return AddResult{}, fmt.Errorf("hybridltm: insert vector record: %w", err)
	}

	entity.Attributes["vector_id"] = vectorID
	if err := m.graph.UpsertNode(ctx, entity); err != nil {
		_ = m.vectors.Delete(ctx, vectorID)
		_ = m.graph.DeleteNode(ctx, entityID)
		return AddResult{}, fmt.Errorf("hybridltm: link node to vector record: %w", err)
	}

	m.createLinks(ctx, entityID, metadata.GraphLinks)

	return AddResult{VectorID: vectorID, GraphEntityID: entityID}, nil
}

// createLinks creates each declared link from entityID, creating a
// placeholder target node when necessary. Failures are logged, not
// returned — link creation is best-effort per the ingestion contract.
func (m *Memory) createLinks(ctx context.Context, entityID string, links []GraphLink) {
	for _, link := range links {
		if _, err := m.graph.GetNode(ctx, link.Target); err != nil {
			if !errors.Is(err, memory.ErrNotFound) {
				slog.WarnContext(ctx, "hybridltm: link target lookup failed",
					slog.String("target", link.Target), slog.String("error", err.Error()))
				continue
			}
			placeholder := memory.Entity{ID: link.Target, Label: memory.DefaultLabel, Name: link.Target}
			if err := m.graph.UpsertNode(ctx, placeholder); err != nil {
				slog.WarnContext(ctx, "hybridltm: failed to create placeholder link target",
					slog.String("target", link.Target), slog.String("error", err.Error()))
				continue
			}
		}
		rel := memory.Relationship{SourceID: entityID, TargetID: link.Target, Type: link.Type, Attributes: link.Properties}
		if err := m.graph.UpsertEdge(ctx, rel); err != nil {
			slog.WarnContext(ctx, "hybridltm: failed to create declared graph link",
				slog.String("type", link.Type), slog.String("target", link.Target),
				slog.String("error", err.Error()))
		}
	}
}

// newRandomID generates a UUIDv4 string for new entity/vector IDs.
func newRandomID() string {
	return uuid.NewString()
}

// Item is a single result from [Memory.Query].
type Item struct {
	// Source is "vector" or "graph", identifying which backend produced this
	// item directly (an item found via expansion still reports the backend
	// that surfaced it first).
	Source string

	VectorID      string
	GraphEntityID string
	Content       string

	// Score is the cosine similarity when available (vector-sourced items);
	// 0 for graph-only items with no vector match.
	Score float64

	// PathLength is 1 for each entity added by vector_first neighbour
	// expansion, whatever the expansion depth, and 0 for every other item;
	// it is not a per-entity hop count.
	PathLength int

	Timestamp time.Time
	Entity    *memory.Entity
}

// Result is returned by [Memory.Query].
type Result struct {
	Items []Item

	// Degraded is true when a requested strategy fell back to a
	// single-backend mode because its companion backend was unavailable.
	Degraded bool
}

// QueryInput carries the query embedding and graph filter used across
// strategies.
type QueryInput struct {
	Embedding []float32
	Filter    memory.EntityFilter
}

// Query resolves q against the configured backends using strategy, returning
// up to topK items. See the package doc and spec for per-strategy failure
// semantics.
func (m *Memory) Query(ctx context.Context, q QueryInput, strategy Strategy, topK int) (Result, error) {
	if topK < 0 {
		return Result{}, memory.ErrInvalidArgument
	}
	switch strategy {
	case VectorOnly:
		return m.queryVectorOnly(ctx, q, topK)
	case GraphOnly:
		return m.queryGraphOnly(ctx, q, topK)
	case VectorFirst:
		return m.queryVectorFirst(ctx, q, topK)
	case GraphFirst:
		return m.queryGraphFirst(ctx, q, topK)
	case Parallel:
		return m.queryParallel(ctx, q, topK)
	default:
		return Result{}, fmt.Errorf("hybridltm: %w: unknown strategy %d", memory.ErrInvalidArgument, strategy)
	}
}

func (m *Memory) queryVectorOnly(ctx context.Context, q QueryInput, topK int) (Result, error) {
	matches, err := m.vectors.Search(ctx, q.Embedding, topK, memory.VectorFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("hybridltm: vector_only: %w", err)
	}
	items := make([]Item, len(matches))
	for i, sv := range matches {
		items[i] = vectorItem(sv)
	}
	sortItems(items)
	return Result{Items: items}, nil
}

func (m *Memory) queryGraphOnly(ctx context.Context, q QueryInput, topK int) (Result, error) {
	entities, _, err := m.graph.Query(ctx, q.Filter, m.expandDepth)
	if err != nil {
		return Result{}, fmt.Errorf("hybridltm: graph_only: %w", err)
	}
	items := entitiesToItems(entities, 0)
	sortItems(items)
	return Result{Items: capItems(items, topK)}, nil
}

func (m *Memory) queryVectorFirst(ctx context.Context, q QueryInput, topK int) (Result, error) {
	matches, err := m.vectors.Search(ctx, q.Embedding, topK, memory.VectorFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("hybridltm: vector_first: %w", err)
	}
	items := make([]Item, len(matches))
	for i, sv := range matches {
		items[i] = vectorItem(sv)
	}

	seedEntityIDs := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, sv := range matches {
		id, ok := sv.Record.Metadata["graph_entity_id"].(string)
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		seedEntityIDs = append(seedEntityIDs, id)
	}

	degraded := false
	for _, seedID := range seedEntityIDs {
		neighbors, err := m.graph.Neighbors(ctx, seedID, m.expandDepth)
		if err != nil {
			if errors.Is(err, memory.ErrBackendUnavailable) {
				degraded = true
				break
			}
			slog.WarnContext(ctx, "hybridltm: vector_first neighbor expansion failed",
				slog.String("seed", seedID), slog.String("error", err.Error()))
			continue
		}
		items = append(items, entitiesToItems(neighbors, 1)...)
	}

	sortItems(items)
	return Result{Items: capItems(items, topK), Degraded: degraded}, nil
}

func (m *Memory) queryGraphFirst(ctx context.Context, q QueryInput, topK int) (Result, error) {
	entities, _, err := m.graph.Query(ctx, q.Filter, m.expandDepth)
	if err != nil {
		return Result{}, fmt.Errorf("hybridltm: graph_first: %w", err)
	}

	items := make([]Item, 0, len(entities))
	degraded := false
	for _, e := range entities {
		item := Item{Source: "graph", GraphEntityID: e.ID, Content: e.Name, Timestamp: e.UpdatedAt, Entity: entityCopy(e)}
		vectorID, _ := e.Attributes["vector_id"].(string)
		if vectorID != "" && !degraded {
			rec, err := m.vectors.Get(ctx, vectorID)
			switch {
			case err == nil:
				item.VectorID = vectorID
				item.Content = rec.Content
			case errors.Is(err, memory.ErrBackendUnavailable):
				degraded = true
			case errors.Is(err, memory.ErrNotFound):
				// Dangling back-link; enrich with the node name only.
			default:
				return Result{}, fmt.Errorf("hybridltm: graph_first: enrich: %w", err)
			}
		}
		items = append(items, item)
	}

	sortItems(items)
	return Result{Items: capItems(items, topK), Degraded: degraded}, nil
}

func (m *Memory) queryParallel(ctx context.Context, q QueryInput, topK int) (Result, error) {
	var (
		wg                   sync.WaitGroup
		vecMatches           []memory.ScoredVectorRecord
		vecErr               error
		graphEntities        []memory.Entity
		graphErr             error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vecMatches, vecErr = m.vectors.Search(ctx, q.Embedding, topK, memory.VectorFilter{})
	}()
	go func() {
		defer wg.Done()
		graphEntities, _, graphErr = m.graph.Query(ctx, q.Filter, m.expandDepth)
	}()
	wg.Wait()

	vecUnavailable := vecErr != nil && errors.Is(vecErr, memory.ErrBackendUnavailable)
	graphUnavailable := graphErr != nil && errors.Is(graphErr, memory.ErrBackendUnavailable)

	if vecErr != nil && !vecUnavailable {
		return Result{}, fmt.Errorf("hybridltm: parallel: vector: %w", vecErr)
	}
	if graphErr != nil && !graphUnavailable {
		return Result{}, fmt.Errorf("hybridltm: parallel: graph: %w", graphErr)
	}
	if vecUnavailable && graphUnavailable {
		return Result{}, fmt.Errorf("hybridltm: parallel: %w", memory.ErrBackendUnavailable)
	}

	items := make([]Item, 0, len(vecMatches)+len(graphEntities))
	byEntityID := make(map[string]int)
	if !vecUnavailable {
		for _, sv := range vecMatches {
			it := vectorItem(sv)
			items = append(items, it)
			if it.GraphEntityID != "" {
				byEntityID[it.GraphEntityID] = len(items) - 1
			}
		}
	}
	if !graphUnavailable {
		for _, e := range graphEntities {
			if idx, ok := byEntityID[e.ID]; ok {
				items[idx].Entity = entityCopy(e)
				continue
			}
			items = append(items, Item{Source: "graph", GraphEntityID: e.ID, Content: e.Name, Timestamp: e.UpdatedAt, Entity: entityCopy(e)})
		}
	}

	sortItems(items)
	return Result{Items: capItems(items, topK), Degraded: vecUnavailable || graphUnavailable}, nil
}

func vectorItem(sv memory.ScoredVectorRecord) Item {
	entityID, _ := sv.Record.Metadata["graph_entity_id"].(string)
	return Item{
		Source:        "vector",
		VectorID:      sv.Record.ID,
		GraphEntityID: entityID,
		Content:       sv.Record.Content,
		Score:         sv.Score,
		Timestamp:     sv.Record.Timestamp,
	}
}

func entitiesToItems(entities []memory.Entity, pathLength int) []Item {
	items := make([]Item, len(entities))
	for i, e := range entities {
		items[i] = Item{
			Source:        "graph",
			GraphEntityID: e.ID,
			Content:       e.Name,
			PathLength:    pathLength,
			Timestamp:     e.UpdatedAt,
			Entity:        entityCopy(e),
		}
	}
	return items
}

func entityCopy(e memory.Entity) *memory.Entity {
	out := e
	return &out
}

// sortItems orders items by the documented merge tie-break: vector score
// descending, then graph-path length ascending, then recency descending.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if items[i].PathLength != items[j].PathLength {
			return items[i].PathLength < items[j].PathLength
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}

func capItems(items []Item, topK int) []Item {
	if topK <= 0 || topK >= len(items) {
		return items
	}
	return items[:topK]
}
