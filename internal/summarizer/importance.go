package summarizer

import "github.com/mnemex/mnemex/pkg/memory"

// DefaultTargetTokens is the assumed length of an "average" turn, used to
// normalize the token-count term of [DefaultImportance].
const DefaultTargetTokens = 40

// highSignalIntents are the intents that mark a chunk as important
// regardless of its length.
var highSignalIntents = map[string]bool{
	"debug":      true,
	"commit_log": true,
}

// DefaultImportance scores turns by a documented linear combination of
// average token length and the presence of a high-signal intent:
//
//	importance = clamp01(0.4*norm(avgTokens/targetTokens) + 0.6*hasHighSignalIntent)
//
// where hasHighSignalIntent is 1.0 if any turn's Intent is "debug" or
// "commit_log", else 0.0.
func DefaultImportance(turns []memory.Turn) float64 {
	return importanceWithTarget(turns, DefaultTargetTokens)
}

// ImportanceWithTarget returns an importance function identical to
// [DefaultImportance] but normalized against targetTokens instead of
// [DefaultTargetTokens]. A non-positive targetTokens falls back to the
// default.
func ImportanceWithTarget(targetTokens int) func(turns []memory.Turn) float64 {
	if targetTokens <= 0 {
		targetTokens = DefaultTargetTokens
	}
	return func(turns []memory.Turn) float64 {
		return importanceWithTarget(turns, targetTokens)
	}
}

func importanceWithTarget(turns []memory.Turn, targetTokens int) float64 {
	if len(turns) == 0 || targetTokens <= 0 {
		return 0
	}

	var totalTokens int
	hasHighSignal := 0.0
	for _, t := range turns {
		totalTokens += t.TokenEstimate
		if highSignalIntents[t.Intent] {
			hasHighSignal = 1.0
		}
	}
	avgTokens := float64(totalTokens) / float64(len(turns))
	lengthTerm := clamp01(avgTokens / float64(targetTokens))

	return clamp01(0.4*lengthTerm + 0.6*hasHighSignal)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
