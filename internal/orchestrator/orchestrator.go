// Package orchestrator coordinates query preprocessing, parallel tier
// retrieval, aggregation, and compression into a single context bundle, and
// drives STM->MTM promotion on message ingestion.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemex/mnemex/internal/aggregator"
	"github.com/mnemex/mnemex/internal/compressor"
	"github.com/mnemex/mnemex/internal/hybridltm"
	"github.com/mnemex/mnemex/internal/mtm"
	"github.com/mnemex/mnemex/internal/preprocessor"
	"github.com/mnemex/mnemex/internal/snapshot"
	"github.com/mnemex/mnemex/internal/stm"
	"github.com/mnemex/mnemex/internal/summarizer"
	"github.com/mnemex/mnemex/pkg/memory"
)

// DefaultTierDeadline bounds how long a single tier retrieval may run before
// the orchestrator treats it as degraded.
const DefaultTierDeadline = 2 * time.Second

// DefaultSummarizeEvery is the number of turns accumulated before a
// consolidation pass runs.
const DefaultSummarizeEvery = 5

// GetContextOptions parameterizes [Orchestrator.GetContext].
type GetContextOptions struct {
	NRecent             int
	NChunks             int
	NLTM                int
	UseLTM              bool
	UseEmbeddingSearch  bool
	LTMStrategy         hybridltm.Strategy
}

// QueryInfo summarizes the preprocessed query in the returned bundle.
type QueryInfo struct {
	Raw              string
	Normalized       string
	Intent           preprocessor.Intent
	Keywords         []string
	EmbeddingPresent bool
}

// BundleItem is a single aggregated-and-possibly-compressed context entry.
type BundleItem struct {
	Source         aggregator.Source
	Content        string
	FinalScore     float64
	BaseScore      float64
	RelevanceScore float64
	Metadata       map[string]any
	Truncated      bool
}

// CompressionInfo reports how the compressor fit items into the token budget.
type CompressionInfo struct {
	Strategy         compressor.Strategy
	OriginalTokens   int
	TotalTokens      int
	CompressionRatio float64
	ItemsKept        int
	ItemsRemoved     int
}

// Counts reports how many items each tier contributed before compression.
type Counts struct {
	STM int
	MTM int
	LTM int
}

// Timings records per-stage wall-clock duration in milliseconds.
type Timings struct {
	PreprocessMs int64
	STMMs        int64
	MTMMs        int64
	LTMMs        int64
	AggregateMs  int64
	CompressMs   int64
	TotalMs      int64
}

// Bundle is the structured object [Orchestrator.GetContext] returns for
// prompt assembly.
type Bundle struct {
	Query       QueryInfo
	Items       []BundleItem
	Compression CompressionInfo
	Counts      Counts
	Timings     Timings

	// Timeouts lists the tiers (by name: "stm", "mtm", "ltm") that missed
	// their deadline and were degraded to an empty result.
	Timeouts []string

	// Errors lists each tier that failed deterministically (not by
	// timeout). GetContext still returns successfully; a failed tier
	// contributes no items, so when every tier fails the bundle is degraded
	// and has no items.
	Errors []string
}

// Config tunes an [Orchestrator].
type Config struct {
	TierDeadline   time.Duration
	SummarizeEvery int

	Aggregator aggregator.Config
	Compressor compressor.Config

	// DefaultLTMStrategy is used by GetContext when opts.LTMStrategy is the
	// zero value.
	DefaultLTMStrategy hybridltm.Strategy

	// PromoteAsync runs STM->MTM promotion on a background goroutine,
	// serialized per instance, instead of blocking the triggering
	// AddMessage call.
	PromoteAsync bool

	Now func() time.Time
}

// Orchestrator is the top-level retrieval and ingestion coordinator.
type Orchestrator struct {
	preprocessor *preprocessor.Preprocessor
	stm          *stm.Memory
	mtm          *mtm.Memory
	ltm          *hybridltm.Memory
	summarizer   summarizer.Summarizer

	tierDeadline   time.Duration
	summarizeEvery int
	aggCfg         aggregator.Config
	compCfg        compressor.Config
	defaultLTM     hybridltm.Strategy
	promoteAsync   bool
	now            func() time.Time

	// promotionMu serializes STM->MTM promotion per instance, whether run
	// synchronously or on a background goroutine.
	promotionMu sync.Mutex

	countersMu             sync.Mutex
	turnsSinceLastSummary  int
	recentTurnsForPromotion []memory.Turn
}

// Deps bundles the component instances an [Orchestrator] coordinates.
type Deps struct {
	Preprocessor *preprocessor.Preprocessor
	STM          *stm.Memory
	MTM          *mtm.Memory
	LTM          *hybridltm.Memory
	Summarizer   summarizer.Summarizer
}

// New returns an [Orchestrator] wired to deps and tuned by cfg.
func New(deps Deps, cfg Config) *Orchestrator {
	deadline := cfg.TierDeadline
	if deadline <= 0 {
		deadline = DefaultTierDeadline
	}
	summarizeEvery := cfg.SummarizeEvery
	if summarizeEvery <= 0 {
		summarizeEvery = DefaultSummarizeEvery
	}
	defaultStrategy := cfg.DefaultLTMStrategy
	if defaultStrategy == 0 {
		defaultStrategy = hybridltm.VectorFirst
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		preprocessor:   deps.Preprocessor,
		stm:            deps.STM,
		mtm:            deps.MTM,
		ltm:            deps.LTM,
		summarizer:     deps.Summarizer,
		tierDeadline:   deadline,
		summarizeEvery: summarizeEvery,
		aggCfg:         cfg.Aggregator,
		compCfg:        cfg.Compressor,
		defaultLTM:     defaultStrategy,
		promoteAsync:   cfg.PromoteAsync,
		now:            now,
	}
}

// GetContext preprocesses query, retrieves from all three tiers in
// parallel (each bounded by the configured tier deadline), aggregates, and
// compresses the result into a [Bundle].
func (o *Orchestrator) GetContext(ctx context.Context, query string, opts GetContextOptions) (Bundle, error) {
	if opts.NRecent < 0 || opts.NChunks < 0 || opts.NLTM < 0 {
		return Bundle{}, fmt.Errorf("orchestrator: get_context: %w: n_recent/n_chunks/n_ltm must be non-negative", memory.ErrInvalidArgument)
	}

	totalStart := o.now()

	preStart := o.now()
	q, err := o.preprocessor.Preprocess(ctx, query)
	if err != nil {
		return Bundle{}, fmt.Errorf("orchestrator: preprocess: %w", err)
	}
	preprocessMs := o.now().Sub(preStart).Milliseconds()

	var stmResult, mtmResult []aggregator.Item
	var stmMs, mtmMs int64
	var stmTimedOut, mtmTimedOut bool
	var stmErr, mtmErr error
	var ltmResult []aggregator.Item
	var ltmMs int64
	var ltmTimedOut bool
	var ltmErr error
	var wg sync.WaitGroup
	wg.Go(func() { stmResult, stmMs, stmTimedOut, stmErr = o.retrieveSTM(ctx, q, opts) })
	wg.Go(func() { mtmResult, mtmMs, mtmTimedOut, mtmErr = o.retrieveMTM(ctx, q, opts) })
	if opts.UseLTM {
		wg.Go(func() { ltmResult, ltmMs, ltmTimedOut, ltmErr = o.retrieveLTM(ctx, q, opts) })
	}
	wg.Wait()

	var timeouts []string
	if stmTimedOut {
		timeouts = append(timeouts, "stm")
	}
	if mtmTimedOut {
		timeouts = append(timeouts, "mtm")
	}
	if ltmTimedOut {
		timeouts = append(timeouts, "ltm")
	}

	var errs []string
	if stmErr != nil && !stmTimedOut {
		errs = append(errs, fmt.Sprintf("stm: %v", stmErr))
	}
	if mtmErr != nil && !mtmTimedOut {
		errs = append(errs, fmt.Sprintf("mtm: %v", mtmErr))
	}
	if opts.UseLTM && ltmErr != nil && !ltmTimedOut {
		errs = append(errs, fmt.Sprintf("ltm: %v", ltmErr))
	}

	aggStart := o.now()
	all := make([]aggregator.Item, 0, len(stmResult)+len(mtmResult)+len(ltmResult))
	all = append(all, stmResult...)
	all = append(all, mtmResult...)
	all = append(all, ltmResult...)
	aggregated := aggregator.Aggregate(all, q.Embedding, o.aggCfg)
	aggregateMs := o.now().Sub(aggStart).Milliseconds()

	compStart := o.now()
	compCfg := o.compCfg
	compCfg.PreserveRecent = true
	compressed := compressor.Compress(aggregated, compCfg)
	compressMs := o.now().Sub(compStart).Milliseconds()

	items := make([]BundleItem, len(compressed.CompressedItems))
	for i, ci := range compressed.CompressedItems {
		items[i] = BundleItem{
			Source:         ci.Source,
			Content:        ci.Content,
			FinalScore:     ci.FinalScore,
			BaseScore:      ci.BaseScore,
			RelevanceScore: ci.RelevanceScore,
			Metadata:       ci.Metadata,
			Truncated:      ci.Truncated,
		}
	}

	return Bundle{
		Query: QueryInfo{
			Raw:              q.RawText,
			Normalized:       q.NormalizedText,
			Intent:           q.Intent,
			Keywords:         q.Keywords,
			EmbeddingPresent: q.EmbeddingPresent(),
		},
		Items: items,
		Compression: CompressionInfo{
			Strategy:         compressed.Strategy,
			OriginalTokens:   compressed.OriginalTokens,
			TotalTokens:      compressed.TotalTokens,
			CompressionRatio: compressed.CompressionRatio,
			ItemsKept:        compressed.ItemsKept,
			ItemsRemoved:     compressed.ItemsRemoved,
		},
		Counts: Counts{STM: len(stmResult), MTM: len(mtmResult), LTM: len(ltmResult)},
		Timings: Timings{
			PreprocessMs: preprocessMs,
			STMMs:        stmMs,
			MTMMs:        mtmMs,
			LTMMs:        ltmMs,
			AggregateMs:  aggregateMs,
			CompressMs:   compressMs,
			TotalMs:      o.now().Sub(totalStart).Milliseconds(),
		},
		Timeouts: timeouts,
		Errors:   errs,
	}, nil
}

// withTierDeadline runs fn with a context bounded by the orchestrator's
// configured per-tier deadline, returning whether the deadline was the
// cause of fn's failure to complete.
func (o *Orchestrator) withTierDeadline(ctx context.Context, fn func(context.Context) error) (timedOut bool, err error) {
	tctx, cancel := context.WithTimeout(ctx, o.tierDeadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return false, err
	case <-tctx.Done():
		return true, tctx.Err()
	}
}

func (o *Orchestrator) retrieveSTM(ctx context.Context, q preprocessor.Query, opts GetContextOptions) ([]aggregator.Item, int64, bool, error) {
	start := o.now()
	var turns []memory.Turn
	timedOut, err := o.withTierDeadline(ctx, func(tctx context.Context) error {
		var embedding []float32
		if opts.UseEmbeddingSearch {
			embedding = q.Embedding
		}
		var innerErr error
		turns, innerErr = o.stm.GetRecent(tctx, opts.NRecent, embedding)
		return innerErr
	})
	ms := o.now().Sub(start).Milliseconds()
	if timedOut || err != nil {
		if err != nil && !timedOut {
			slog.WarnContext(ctx, "orchestrator: stm retrieval failed", slog.String("error", err.Error()))
		}
		return nil, ms, timedOut, err
	}

	items := make([]aggregator.Item, len(turns))
	now := o.now()
	for i, t := range turns {
		items[i] = aggregator.Item{
			Source:    aggregator.SourceSTM,
			ID:        t.ID,
			Content:   t.Content,
			Embedding: t.Embedding,
			BaseScore: recencyDecay(now, t.Timestamp),
			Metadata:  map[string]any{"session_id": t.SessionID, "role": t.Role, "intent": t.Intent},
		}
	}
	return items, ms, false, nil
}

func (o *Orchestrator) retrieveMTM(ctx context.Context, q preprocessor.Query, opts GetContextOptions) ([]aggregator.Item, int64, bool, error) {
	start := o.now()
	var chunks []memory.Chunk
	timedOut, err := o.withTierDeadline(ctx, func(tctx context.Context) error {
		var innerErr error
		if opts.UseEmbeddingSearch && len(q.Embedding) > 0 {
			chunks, innerErr = o.mtm.SearchByEmbedding(tctx, q.Embedding, opts.NChunks)
		} else {
			chunks, innerErr = o.mtm.GetRecentChunks(tctx, opts.NChunks)
		}
		return innerErr
	})
	ms := o.now().Sub(start).Milliseconds()
	if timedOut || err != nil {
		if err != nil && !timedOut {
			slog.WarnContext(ctx, "orchestrator: mtm retrieval failed", slog.String("error", err.Error()))
		}
		return nil, ms, timedOut, err
	}

	items := make([]aggregator.Item, len(chunks))
	for i, c := range chunks {
		items[i] = aggregator.Item{
			Source:    aggregator.SourceMTM,
			ID:        c.ID,
			Content:   c.Content,
			Embedding: c.Embedding,
			BaseScore: positionDecay(i, len(chunks)),
			Metadata:  map[string]any{"session_id": c.SessionID, "intent": c.Intent, "topics": c.Topics},
		}
	}
	return items, ms, false, nil
}

func (o *Orchestrator) retrieveLTM(ctx context.Context, q preprocessor.Query, opts GetContextOptions) ([]aggregator.Item, int64, bool, error) {
	start := o.now()
	strategy := opts.LTMStrategy
	if strategy == 0 {
		strategy = o.defaultLTM
	}

	var res hybridltm.Result
	timedOut, err := o.withTierDeadline(ctx, func(tctx context.Context) error {
		var innerErr error
		res, innerErr = o.ltm.Query(tctx, hybridltm.QueryInput{Embedding: q.Embedding}, strategy, opts.NLTM)
		return innerErr
	})
	ms := o.now().Sub(start).Milliseconds()
	if timedOut || err != nil {
		if err != nil && !timedOut {
			slog.WarnContext(ctx, "orchestrator: ltm retrieval failed", slog.String("error", err.Error()))
		}
		return nil, ms, timedOut, err
	}

	items := make([]aggregator.Item, len(res.Items))
	for i, it := range res.Items {
		importance := 0.0
		if it.Entity != nil {
			if imp, ok := it.Entity.Attributes["importance"].(float64); ok {
				importance = imp
			}
		}
		items[i] = aggregator.Item{
			Source:    aggregator.SourceLTM,
			ID:        it.VectorID,
			Content:   it.Content,
			BaseScore: importance,
			Metadata:  map[string]any{"graph_entity_id": it.GraphEntityID, "ltm_source": it.Source, "degraded": res.Degraded},
		}
	}
	return items, ms, false, nil
}

// recencyDecay scores a timestamp's recency as 1/(1 + age/recencyHalfLife),
// producing 1.0 for now, 0.5 at an age of recencyHalfLife, and approaching 0
// as age grows. A zero timestamp scores 0.
const recencyHalfLife = 10 * time.Minute

func recencyDecay(now, ts time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return expDecay(age)
}

func expDecay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return 1 / (1 + age.Seconds()/recencyHalfLife.Seconds())
}

// positionDecay scores MTM chunks by their position in the result list: the
// first chunk scores 1.0, decaying linearly toward 0 across the list. The
// list is in similarity order for embedding search and in insertion order
// (oldest first) for the GetRecentChunks fallback.
func positionDecay(index, total int) float64 {
	if total <= 1 {
		return 1
	}
	return 1 - float64(index)/float64(total)
}

// AddMessage preprocesses content, appends it to STM, and triggers
// STM->MTM promotion once summarizeEvery turns have accumulated since the
// last promotion. Promotion runs synchronously unless Config.PromoteAsync
// is set, in which case it runs on a background goroutine serialized (via
// promotionMu) with any other promotion for this instance.
func (o *Orchestrator) AddMessage(ctx context.Context, role, content string) error {
	q, err := o.preprocessor.Preprocess(ctx, content)
	if err != nil {
		return fmt.Errorf("orchestrator: add_message: preprocess: %w", err)
	}

	turn := memory.Turn{
		ID:            uuid.NewString(),
		Role:          role,
		Content:       content,
		Intent:        string(q.Intent),
		Keywords:      q.Keywords,
		Embedding:     q.Embedding,
		TokenEstimate: compressor.DefaultTokenEstimator(content),
	}
	if err := o.stm.Add(ctx, turn); err != nil {
		return fmt.Errorf("orchestrator: add_message: stm add: %w", err)
	}

	o.countersMu.Lock()
	o.recentTurnsForPromotion = append(o.recentTurnsForPromotion, turn)
	o.turnsSinceLastSummary++
	trigger := o.turnsSinceLastSummary >= o.summarizeEvery
	var batch []memory.Turn
	if trigger {
		batch = o.recentTurnsForPromotion
		o.recentTurnsForPromotion = nil
		o.turnsSinceLastSummary = 0
	}
	o.countersMu.Unlock()

	if !trigger {
		return nil
	}

	if o.promoteAsync {
		go o.promote(context.WithoutCancel(ctx), batch)
		return nil
	}
	o.promote(ctx, batch)
	return nil
}

// promote summarizes batch and adds the resulting chunk to MTM. Serialized
// per instance via promotionMu regardless of sync/async dispatch.
func (o *Orchestrator) promote(ctx context.Context, batch []memory.Turn) {
	o.promotionMu.Lock()
	defer o.promotionMu.Unlock()

	chunk, err := o.summarizer.Summarize(ctx, batch)
	if err != nil {
		slog.ErrorContext(ctx, "orchestrator: promotion summarize failed", slog.String("error", err.Error()))
		return
	}
	if err := o.mtm.AddChunk(ctx, chunk); err != nil {
		slog.ErrorContext(ctx, "orchestrator: promotion add_chunk failed", slog.String("error", err.Error()))
	}
}

// SnapshotTurns returns every live STM turn in insertion order. It satisfies
// snapshot.Source.
func (o *Orchestrator) SnapshotTurns() []memory.Turn {
	return o.stm.All()
}

// SnapshotChunks returns every MTM chunk in insertion order. It satisfies
// snapshot.Source.
func (o *Orchestrator) SnapshotChunks() []memory.Chunk {
	return o.mtm.All()
}

// SnapshotCounters returns the promotion bookkeeping a snapshot must
// preserve. It satisfies snapshot.Source.
func (o *Orchestrator) SnapshotCounters() snapshot.Counters {
	o.countersMu.Lock()
	defer o.countersMu.Unlock()
	return snapshot.Counters{TurnsSinceLastSummary: o.turnsSinceLastSummary}
}

// RestoreTurns replaces STM's contents with turns. It satisfies
// snapshot.Sink.
func (o *Orchestrator) RestoreTurns(turns []memory.Turn) {
	o.stm.Restore(turns)
}

// RestoreChunks replaces MTM's contents with chunks. It satisfies
// snapshot.Sink.
func (o *Orchestrator) RestoreChunks(chunks []memory.Chunk) {
	o.mtm.Restore(chunks)
}

// RestoreCounters restores promotion bookkeeping. It satisfies
// snapshot.Sink. The in-flight recentTurnsForPromotion batch is not part of
// the snapshot and is reset to empty; at most summarizeEvery-1 turns of
// un-promoted history are lost across a restart, matching the documented
// at-most-once promotion semantics.
func (o *Orchestrator) RestoreCounters(c snapshot.Counters) {
	o.countersMu.Lock()
	defer o.countersMu.Unlock()
	o.turnsSinceLastSummary = c.TurnsSinceLastSummary
	o.recentTurnsForPromotion = nil
}

// SaveSnapshot persists STM, MTM, and promotion counters to path.
func (o *Orchestrator) SaveSnapshot(ctx context.Context, path string, embeddingDim int) error {
	return snapshot.Save(ctx, path, o, embeddingDim)
}

// LoadSnapshot restores STM, MTM, and promotion counters from path. A
// missing snapshot is not an error: loaded is false and the orchestrator's
// existing (fresh) state is left untouched.
func (o *Orchestrator) LoadSnapshot(ctx context.Context, path string) (loaded bool, err error) {
	return snapshot.Load(ctx, path, o)
}
