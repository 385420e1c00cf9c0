// Package summarizer compresses runs of short-term memory turns into a
// single mid-term memory [memory.Chunk].
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mnemex/mnemex/internal/resilience"
	"github.com/mnemex/mnemex/pkg/embedding"
	"github.com/mnemex/mnemex/pkg/memory"
	"github.com/mnemex/mnemex/pkg/provider/llm"
	"github.com/mnemex/mnemex/pkg/types"
)

// Summarizer compresses an ordered run of turns into a single [memory.Chunk].
// Implementations must not mutate the input slice.
type Summarizer interface {
	Summarize(ctx context.Context, turns []memory.Turn) (memory.Chunk, error)
}

// Local is a deterministic, network-free [Summarizer]. The summary text is
// built from the first and last turn's content; topics are the union of
// every source turn's keywords; the dominant intent is the most frequent
// non-empty intent among the source turns, ties broken by first occurrence.
type Local struct {
	// Embedder produces the chunk's embedding from its summary text.
	// Required.
	Embedder embedding.Embedder

	// Importance scores the resulting chunk. Defaults to [DefaultImportance]
	// when nil.
	Importance func(turns []memory.Turn) float64
}

// Compile-time interface check.
var _ Summarizer = (*Local)(nil)

// Summarize implements [Summarizer].
func (s *Local) Summarize(ctx context.Context, turns []memory.Turn) (memory.Chunk, error) {
	if len(turns) == 0 {
		return memory.Chunk{}, fmt.Errorf("summarizer: Summarize: %w: empty turn list", memory.ErrInvalidArgument)
	}

	summary := extractiveSummary(turns)
	intent := dominantIntent(turns)
	sourceIDs := make([]string, len(turns))
	for i, t := range turns {
		sourceIDs[i] = t.ID
	}

	importanceFn := s.Importance
	if importanceFn == nil {
		importanceFn = DefaultImportance
	}

	chunk := memory.Chunk{
		SessionID:     turns[0].SessionID,
		Content:       summary,
		SourceTurnIDs: sourceIDs,
		Topics:        unionKeywords(turns),
		Intent:        intent,
		Importance:    importanceFn(turns),
		Timestamp:     turns[len(turns)-1].Timestamp,
	}

	if s.Embedder != nil {
		vec, err := s.Embedder.Embed(ctx, summary)
		if err != nil {
			return memory.Chunk{}, fmt.Errorf("summarizer: embed summary: %w", err)
		}
		chunk.Embedding = vec
	}

	return chunk, nil
}

// extractiveSummary builds a concise text preserving the first and last
// turn's content plus the union of every turn's keywords (as topics) and
// the union of every turn's non-empty intents.
func extractiveSummary(turns []memory.Turn) string {
	var b strings.Builder
	first, last := turns[0], turns[len(turns)-1]

	b.WriteString(truncateWords(first.Content, 40))
	if len(turns) > 1 {
		b.WriteString(" … ")
		b.WriteString(truncateWords(last.Content, 40))
	}

	topics := unionKeywords(turns)
	if len(topics) > 0 {
		b.WriteString(" [topics: ")
		b.WriteString(strings.Join(topics, ", "))
		b.WriteString("]")
	}

	var intents []string
	seenIntent := make(map[string]bool)
	for _, t := range turns {
		if t.Intent != "" && !seenIntent[t.Intent] {
			seenIntent[t.Intent] = true
			intents = append(intents, t.Intent)
		}
	}
	if len(intents) > 0 {
		b.WriteString(" [intents: ")
		b.WriteString(strings.Join(intents, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// unionKeywords returns the deduplicated, order-preserving union of every
// turn's Keywords.
func unionKeywords(turns []memory.Turn) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range turns {
		for _, kw := range t.Keywords {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

// dominantIntent returns the most frequent non-empty intent among turns,
// ties broken by first occurrence order.
func dominantIntent(turns []memory.Turn) string {
	counts := make(map[string]int)
	var order []string
	for _, t := range turns {
		if t.Intent == "" {
			continue
		}
		if counts[t.Intent] == 0 {
			order = append(order, t.Intent)
		}
		counts[t.Intent]++
	}
	if len(order) == 0 {
		return ""
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order[0]
}

// truncateWords returns at most maxWords words of s, joined by single spaces.
func truncateWords(s string, maxWords int) string {
	fields := strings.Fields(s)
	if len(fields) <= maxWords {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:maxWords], " ")
}

// LLM delegates summarization to an external [llm.Provider]. If the provider
// call fails or returns an empty response, Summarize falls back to an
// internal [Local] summarizer silently — the caller never observes the
// failure.
type LLM struct {
	// Provider performs the actual completion. Required.
	Provider llm.Provider

	// Fallback is used when Provider fails. Required.
	Fallback *Local

	// SystemPrompt overrides the default summarization instruction.
	SystemPrompt string

	breakerOnce sync.Once
	breaker     *resilience.CircuitBreaker
}

// Compile-time interface check.
var _ Summarizer = (*LLM)(nil)

const defaultSystemPrompt = "Summarize the following conversation turns into one concise paragraph. " +
	"Preserve named entities, stated intents, and outcomes. Respond with only the summary text."

// Summarize implements [Summarizer]. Provider calls are guarded by a circuit
// breaker: once the provider has failed repeatedly, subsequent calls fall
// back to Fallback immediately without attempting the network round trip.
func (s *LLM) Summarize(ctx context.Context, turns []memory.Turn) (memory.Chunk, error) {
	if len(turns) == 0 {
		return memory.Chunk{}, fmt.Errorf("summarizer: Summarize: %w: empty turn list", memory.ErrInvalidArgument)
	}

	s.breakerOnce.Do(func() {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "summarizer-llm"})
	})

	var chunk memory.Chunk
	err := s.breaker.Execute(func() error {
		var err error
		chunk, err = s.summarizeViaLLM(ctx, turns)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "llm summarizer failed, falling back to local",
			slog.String("error", err.Error()))
		return s.Fallback.Summarize(ctx, turns)
	}
	return chunk, nil
}

func (s *LLM) summarizeViaLLM(ctx context.Context, turns []memory.Turn) (memory.Chunk, error) {
	prompt := s.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	messages := make([]types.Message, len(turns))
	for i, t := range turns {
		messages[i] = types.Message{Role: t.Role, Content: t.Content}
	}

	resp, err := s.Provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: prompt,
		Temperature:  0.2,
	})
	if err != nil {
		return memory.Chunk{}, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return memory.Chunk{}, fmt.Errorf("summarizer: llm returned empty content")
	}

	sourceIDs := make([]string, len(turns))
	for i, t := range turns {
		sourceIDs[i] = t.ID
	}

	chunk := memory.Chunk{
		SessionID:     turns[0].SessionID,
		Content:       resp.Content,
		SourceTurnIDs: sourceIDs,
		Topics:        unionKeywords(turns),
		Intent:        dominantIntent(turns),
		Timestamp:     turns[len(turns)-1].Timestamp,
	}

	importanceFn := s.Fallback.Importance
	if importanceFn == nil {
		importanceFn = DefaultImportance
	}
	chunk.Importance = importanceFn(turns)

	if s.Fallback.Embedder != nil {
		vec, err := s.Fallback.Embedder.Embed(ctx, resp.Content)
		if err != nil {
			return memory.Chunk{}, fmt.Errorf("summarizer: embed llm summary: %w", err)
		}
		chunk.Embedding = vec
	}
	return chunk, nil
}
