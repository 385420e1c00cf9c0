// Package aggregator merges the per-tier retrieval results of STM, MTM, and
// HybridLTM into a single ranked, deduplicated list.
package aggregator

import (
	"math"
	"sort"
	"strings"
)

// Source identifies which memory tier produced an [Item].
type Source string

const (
	SourceSTM Source = "stm"
	SourceMTM Source = "mtm"
	SourceLTM Source = "ltm"
)

// Default weights and blend factor, used when [Config] leaves a field zero.
const (
	DefaultWeightSTM      = 0.5
	DefaultWeightMTM      = 0.3
	DefaultWeightLTM      = 0.2
	DefaultAlpha          = 0.7
	DefaultDedupThreshold = 0.85
)

// Item is a single candidate surfaced by a tier, before or after scoring.
type Item struct {
	Source Source

	ID      string
	Content string

	// Embedding is used to compute RelevanceScore against the query
	// embedding, when both are present.
	Embedding []float32

	// BaseScore is the tier-specific prior: recency-decay for STM, position
	// for MTM, importance for LTM. Callers compute this before aggregation.
	BaseScore float64

	// RelevanceScore is overwritten by [Aggregate] as the cosine similarity
	// against the query embedding (0 if no query embedding is supplied).
	RelevanceScore float64

	// FinalScore is overwritten by [Aggregate].
	FinalScore float64

	Metadata map[string]any
}

// Config tunes [Aggregate]'s scoring and deduplication.
type Config struct {
	WeightSTM, WeightMTM, WeightLTM float64
	Alpha                           float64
	DedupThreshold                  float64
}

// resolved fills zero fields with documented defaults.
func (c Config) resolved() Config {
	if c.WeightSTM == 0 && c.WeightMTM == 0 && c.WeightLTM == 0 {
		c.WeightSTM, c.WeightMTM, c.WeightLTM = DefaultWeightSTM, DefaultWeightMTM, DefaultWeightLTM
	}
	if c.Alpha == 0 {
		c.Alpha = DefaultAlpha
	}
	if c.DedupThreshold == 0 {
		c.DedupThreshold = DefaultDedupThreshold
	}
	return c
}

func (c Config) weightFor(s Source) float64 {
	switch s {
	case SourceSTM:
		return c.WeightSTM
	case SourceMTM:
		return c.WeightMTM
	case SourceLTM:
		return c.WeightLTM
	default:
		return 0
	}
}

// Aggregate merges items from every tier into a single list sorted by
// FinalScore descending, with near-duplicate items dropped.
//
// final_score = w_layer * (alpha*relevance_score + (1-alpha)*base_score).
// relevance_score is the cosine similarity between an item's Embedding and
// queryEmbedding, or 0 if either is absent. Deduplication compares every
// pair of items by Jaccard token overlap of their normalized Content;
// whichever of a colliding pair scored lower is dropped.
func Aggregate(items []Item, queryEmbedding []float32, cfg Config) []Item {
	cfg = cfg.resolved()

	scored := make([]Item, len(items))
	copy(scored, items)
	for i := range scored {
		relevance := 0.0
		if len(queryEmbedding) > 0 && len(scored[i].Embedding) > 0 {
			relevance = cosineSimilarity(scored[i].Embedding, queryEmbedding)
		}
		scored[i].RelevanceScore = relevance
		scored[i].FinalScore = cfg.weightFor(scored[i].Source) * (cfg.Alpha*relevance + (1-cfg.Alpha)*scored[i].BaseScore)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	return dedup(scored, cfg.DedupThreshold)
}

// dedup drops any item whose normalized content has Jaccard token overlap
// above threshold with a higher-scored item already kept. Input must already
// be sorted by descending score.
func dedup(sorted []Item, threshold float64) []Item {
	kept := make([]Item, 0, len(sorted))
	keptTokens := make([]map[string]bool, 0, len(sorted))

	for _, item := range sorted {
		tokens := tokenSet(item.Content)
		duplicate := false
		for _, existing := range keptTokens {
			if jaccard(tokens, existing) > threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, item)
		keptTokens = append(keptTokens, tokens)
	}
	return kept
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

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
