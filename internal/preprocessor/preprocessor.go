// Package preprocessor normalizes raw query text into a structured query
// object: normalized text, intent classification, extracted keywords, and
// an embedding.
package preprocessor

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/mnemex/mnemex/pkg/embedding"
)

// Intent is the closed set of coarse query classifications.
type Intent string

const (
	IntentCodeSearch    Intent = "code_search"
	IntentDebug         Intent = "debug"
	IntentDocumentation Intent = "documentation"
	IntentCommitLog     Intent = "commit_log"
	IntentGeneral       Intent = "general"
)

// Query is the structured result of [Preprocessor.Preprocess].
type Query struct {
	RawText        string
	NormalizedText string
	Embedding      []float32
	Intent         Intent
	Keywords       []string
	Timestamp      time.Time
}

// EmbeddingPresent reports whether q carries a non-empty embedding, surfaced
// in the context bundle. It is true for a vector from the deterministic
// fallback embedder as well as for a model-produced one; the bundle does not
// record which embedder produced the vector.
func (q Query) EmbeddingPresent() bool {
	return len(q.Embedding) > 0
}

// minKeywordLength is the shortest a normalized token may be to count as a
// content word.
const minKeywordLength = 3

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// intentRule maps a set of trigger keywords to an intent. Rules are checked
// in order; the first match wins.
type intentRule struct {
	intent   Intent
	triggers map[string]bool
}

var intentRules = []intentRule{
	{
		intent: IntentDebug,
		triggers: triggerSet(
			"bug", "error", "errors", "exception", "crash", "traceback",
			"stacktrace", "panic", "fail", "failing", "failure", "debug",
		),
	},
	{
		intent: IntentCommitLog,
		triggers: triggerSet(
			"commit", "commits", "changelog", "diff", "patch", "pr",
			"merge", "revert", "release",
		),
	},
	{
		intent: IntentCodeSearch,
		triggers: triggerSet(
			"function", "func", "method", "class", "struct", "interface",
			"implementation", "code", "module", "package", "import",
		),
	},
	{
		intent: IntentDocumentation,
		triggers: triggerSet(
			"docs", "documentation", "readme", "guide", "tutorial",
			"reference", "spec", "specification", "howto",
		),
	},
}

func triggerSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// defaultStopWords are excluded from keyword extraction regardless of
// length. Populated with the most common English function words a
// conversational query is likely to contain.
var defaultStopWords = BuildStopWordSet(
	"the", "and", "for", "are", "but", "not", "you", "all", "can",
	"has", "have", "had", "was", "were", "been", "being", "with",
	"this", "that", "these", "those", "what", "when", "where", "which",
	"who", "whom", "why", "how", "does", "did", "doing", "about", "into",
	"over", "under", "than", "then", "them", "they", "their", "there",
	"here", "will", "would", "should", "could", "from", "our", "your",
	"its", "his", "her", "she", "him", "out", "get", "got",
)

// BuildStopWordSet converts a word list into a lowercase lookup set.
func BuildStopWordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return set
}

// Config tunes a [Preprocessor].
type Config struct {
	// Embedder produces the query embedding. Required.
	Embedder embedding.Embedder

	// StopWords overrides the default stop-list. Nil uses [defaultStopWords].
	StopWords map[string]bool

	// Now overrides the clock used to stamp the query. Defaults to [time.Now].
	Now func() time.Time
}

// Preprocessor turns raw query text into a [Query].
type Preprocessor struct {
	embedder  embedding.Embedder
	stopWords map[string]bool
	now       func() time.Time
}

// New returns a [Preprocessor] configured by cfg.
func New(cfg Config) *Preprocessor {
	stopWords := cfg.StopWords
	if stopWords == nil {
		stopWords = defaultStopWords
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Preprocessor{embedder: cfg.Embedder, stopWords: stopWords, now: now}
}

// Preprocess normalizes rawText, classifies its intent, extracts its
// keywords, and embeds the normalized text.
func (p *Preprocessor) Preprocess(ctx context.Context, rawText string) (Query, error) {
	normalized := normalize(rawText)
	keywords := extractKeywords(normalized, p.stopWords)
	intent := classifyIntent(keywords)

	q := Query{
		RawText:        rawText,
		NormalizedText: normalized,
		Intent:         intent,
		Keywords:       keywords,
		Timestamp:      p.now(),
	}

	if normalized == "" {
		return q, nil
	}

	vec, err := p.embedder.Embed(ctx, normalized)
	if err != nil {
		return Query{}, err
	}
	q.Embedding = vec
	return q, nil
}

// normalize lowercases s, strips punctuation, and collapses whitespace.
func normalize(s string) string {
	tokens := tokenPattern.FindAllString(strings.ToLower(s), -1)
	return strings.Join(tokens, " ")
}

// extractKeywords returns the deduplicated, order-preserving list of content
// words in normalized (length >= minKeywordLength, not in stopWords).
func extractKeywords(normalized string, stopWords map[string]bool) []string {
	if normalized == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.Fields(normalized) {
		if len(tok) < minKeywordLength || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// classifyIntent applies intentRules in order against keywords, returning
// the first matching intent or [IntentGeneral] if none match.
func classifyIntent(keywords []string) Intent {
	for _, rule := range intentRules {
		for _, kw := range keywords {
			if rule.triggers[kw] {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}
