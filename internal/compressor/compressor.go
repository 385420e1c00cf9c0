// Package compressor fits an aggregated, ranked item list into a token
// budget using one of several selection strategies.
package compressor

import (
	"math"
	"sort"

	"github.com/mnemex/mnemex/internal/aggregator"
)

// Strategy selects how [Compress] chooses which items survive the budget.
type Strategy string

const (
	// StrategyTruncate accepts items in input order while cumulative tokens
	// stay within budget.
	StrategyTruncate Strategy = "truncate"

	// StrategyScoreBased accepts items by descending FinalScore while under
	// budget, optionally forcing the most-recent STM items to survive.
	StrategyScoreBased Strategy = "score_based"

	// StrategyMMR picks items by Maximal Marginal Relevance, balancing score
	// against diversity from already-accepted items.
	StrategyMMR Strategy = "mmr"
)

// DefaultMMRLambda weights relevance against diversity in the mmr strategy.
const DefaultMMRLambda = 0.7

// TokenEstimator estimates the token count of a string. Injectable so
// callers can substitute a model-specific tokenizer.
type TokenEstimator func(s string) int

// DefaultTokenEstimator approximates token count as ceil(len(s)/4), the
// common rule of thumb for English prose.
func DefaultTokenEstimator(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}

// Config tunes [Compress].
type Config struct {
	MaxTokens int
	Strategy  Strategy

	// PreserveRecent, when true, forcibly retains the PreserveRecentCount
	// most-recent STM items even if they would otherwise be displaced by
	// higher-scored items. Only meaningful for [StrategyScoreBased].
	PreserveRecent      bool
	PreserveRecentCount int

	// MMRLambda trades relevance against diversity for [StrategyMMR]. Zero
	// falls back to [DefaultMMRLambda].
	MMRLambda float64

	// Estimator overrides [DefaultTokenEstimator].
	Estimator TokenEstimator
}

// CompressedItem wraps an [aggregator.Item] with its token estimate and a
// flag marking whether it was truncated to fit alone within the budget.
type CompressedItem struct {
	aggregator.Item
	Tokens    int
	Truncated bool
}

// Result is returned by [Compress].
type Result struct {
	CompressedItems []CompressedItem
	TotalTokens     int
	OriginalTokens  int
	CompressionRatio float64
	Strategy        Strategy
	ItemsKept       int
	ItemsRemoved    int
}

// Compress selects a subset of items fitting within cfg.MaxTokens using
// cfg.Strategy, defaulting to [StrategyScoreBased] when unset.
//
// If a single item alone exceeds the budget, it is truncated to a
// budget-sized content prefix and flagged Truncated.
func Compress(items []aggregator.Item, cfg Config) Result {
	estimate := cfg.Estimator
	if estimate == nil {
		estimate = DefaultTokenEstimator
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyScoreBased
	}

	originalTokens := 0
	for _, it := range items {
		originalTokens += estimate(it.Content)
	}

	var kept []CompressedItem
	switch strategy {
	case StrategyTruncate:
		kept = compressTruncate(items, cfg.MaxTokens, estimate)
	case StrategyMMR:
		lambda := cfg.MMRLambda
		if lambda == 0 {
			lambda = DefaultMMRLambda
		}
		kept = compressMMR(items, cfg.MaxTokens, lambda, estimate)
	default:
		kept = compressScoreBased(items, cfg.MaxTokens, cfg.PreserveRecent, cfg.PreserveRecentCount, estimate)
	}

	total := 0
	for _, it := range kept {
		total += it.Tokens
	}

	ratio := 0.0
	if originalTokens > 0 {
		ratio = float64(total) / float64(originalTokens)
	}

	return Result{
		CompressedItems:  kept,
		TotalTokens:      total,
		OriginalTokens:   originalTokens,
		CompressionRatio: ratio,
		Strategy:         strategy,
		ItemsKept:        len(kept),
		ItemsRemoved:     len(items) - len(kept),
	}
}

// fitSingle truncates item's content to a budget-sized prefix when it alone
// exceeds maxTokens, flagging it Truncated.
func fitSingle(item aggregator.Item, maxTokens int, estimate TokenEstimator) CompressedItem {
	tokens := estimate(item.Content)
	if tokens <= maxTokens || maxTokens <= 0 {
		return CompressedItem{Item: item, Tokens: tokens}
	}
	maxChars := maxTokens * 4
	if maxChars > len(item.Content) {
		maxChars = len(item.Content)
	}
	truncated := item
	truncated.Content = item.Content[:maxChars]
	return CompressedItem{Item: truncated, Tokens: estimate(truncated.Content), Truncated: true}
}

func compressTruncate(items []aggregator.Item, maxTokens int, estimate TokenEstimator) []CompressedItem {
	var kept []CompressedItem
	running := 0
	for _, it := range items {
		tokens := estimate(it.Content)
		if running == 0 && tokens > maxTokens && maxTokens > 0 {
			single := fitSingle(it, maxTokens, estimate)
			kept = append(kept, single)
			running += single.Tokens
			break
		}
		if running+tokens > maxTokens {
			break
		}
		kept = append(kept, CompressedItem{Item: it, Tokens: tokens})
		running += tokens
	}
	return kept
}

func compressScoreBased(items []aggregator.Item, maxTokens int, preserveRecent bool, preserveCount int, estimate TokenEstimator) []CompressedItem {
	byScore := make([]aggregator.Item, len(items))
	copy(byScore, items)
	sort.SliceStable(byScore, func(i, j int) bool { return byScore[i].FinalScore > byScore[j].FinalScore })

	var kept []CompressedItem
	running := 0
	for _, it := range byScore {
		tokens := estimate(it.Content)
		if len(kept) == 0 && tokens > maxTokens && maxTokens > 0 {
			single := fitSingle(it, maxTokens, estimate)
			kept = append(kept, single)
			running += single.Tokens
			continue
		}
		if running+tokens > maxTokens {
			continue
		}
		kept = append(kept, CompressedItem{Item: it, Tokens: tokens})
		running += tokens
	}

	if preserveRecent && preserveCount > 0 {
		kept = forcePreserveRecent(items, kept, preserveCount, maxTokens, estimate)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].FinalScore > kept[j].FinalScore })
	return kept
}

// forcePreserveRecent ensures the preserveCount most-recent STM items (by
// input order, which callers supply already ordered recency-first) are
// present in kept, displacing the lowest-scored non-recent item as needed.
func forcePreserveRecent(all []aggregator.Item, kept []CompressedItem, preserveCount int, maxTokens int, estimate TokenEstimator) []CompressedItem {
	var recentSTM []aggregator.Item
	for _, it := range all {
		if it.Source == aggregator.SourceSTM {
			recentSTM = append(recentSTM, it)
		}
		if len(recentSTM) == preserveCount {
			break
		}
	}

	present := make(map[string]bool, len(kept))
	for _, k := range kept {
		present[k.ID] = true
	}

	for _, must := range recentSTM {
		if present[must.ID] {
			continue
		}
		entry := CompressedItem{Item: must, Tokens: estimate(must.Content)}

		for {
			total := 0
			for _, k := range kept {
				total += k.Tokens
			}
			if maxTokens <= 0 || total+entry.Tokens <= maxTokens {
				break
			}
			lowestIdx := lowestScoredDisplaceable(kept, recentSTM)
			if lowestIdx < 0 {
				break
			}
			kept = append(kept[:lowestIdx], kept[lowestIdx+1:]...)
		}

		kept = append(kept, entry)
		present[must.ID] = true
	}
	return kept
}

// lowestScoredDisplaceable returns the index of the lowest-FinalScore item
// in kept that is not itself one of the protected recentSTM items, or -1 if
// every kept item is protected.
func lowestScoredDisplaceable(kept []CompressedItem, protected []aggregator.Item) int {
	protectedIDs := make(map[string]bool, len(protected))
	for _, p := range protected {
		protectedIDs[p.ID] = true
	}
	lowestIdx := -1
	lowestScore := math.Inf(1)
	for i, k := range kept {
		if protectedIDs[k.ID] {
			continue
		}
		if k.FinalScore < lowestScore {
			lowestScore = k.FinalScore
			lowestIdx = i
		}
	}
	return lowestIdx
}

func compressMMR(items []aggregator.Item, maxTokens int, lambda float64, estimate TokenEstimator) []CompressedItem {
	remaining := make([]aggregator.Item, len(items))
	copy(remaining, items)

	var kept []CompressedItem
	running := 0

	for len(remaining) > 0 {
		bestIdx := -1
		bestValue := math.Inf(-1)
		for i, candidate := range remaining {
			maxSim := 0.0
			for _, acc := range kept {
				sim := cosineSimilarity(candidate.Embedding, acc.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			value := lambda*candidate.FinalScore - (1-lambda)*maxSim
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		candidate := remaining[bestIdx]
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)

		tokens := estimate(candidate.Content)
		if len(kept) == 0 && tokens > maxTokens && maxTokens > 0 {
			single := fitSingle(candidate, maxTokens, estimate)
			kept = append(kept, single)
			running += single.Tokens
			continue
		}
		if running+tokens > maxTokens {
			continue
		}
		kept = append(kept, CompressedItem{Item: candidate, Tokens: tokens})
		running += tokens
	}
	return kept
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
