// Package app wires every mnemex subsystem into a running daemon.
//
// App owns the full lifecycle: New creates and connects all subsystems from
// configuration (embedding/LLM providers, STM/MTM/HybridLTM tiers, the
// orchestrator, and the optional MCP tool surface), Run blocks until the
// daemon is asked to stop, and Shutdown tears everything down in order,
// persisting a final snapshot first.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemex/mnemex/internal/aggregator"
	"github.com/mnemex/mnemex/internal/compressor"
	"github.com/mnemex/mnemex/internal/config"
	"github.com/mnemex/mnemex/internal/hybridltm"
	mnemexmcp "github.com/mnemex/mnemex/internal/mcp"
	"github.com/mnemex/mnemex/internal/mtm"
	"github.com/mnemex/mnemex/internal/orchestrator"
	"github.com/mnemex/mnemex/internal/preprocessor"
	"github.com/mnemex/mnemex/internal/stm"
	"github.com/mnemex/mnemex/internal/summarizer"
	"github.com/mnemex/mnemex/internal/telemetry"
	"github.com/mnemex/mnemex/pkg/embedding"
	"github.com/mnemex/mnemex/pkg/embedding/local"
	"github.com/mnemex/mnemex/pkg/memory"
	graphinmemory "github.com/mnemex/mnemex/pkg/memory/graphstore/inmemory"
	graphpostgres "github.com/mnemex/mnemex/pkg/memory/graphstore/postgres"
	vectorinmemory "github.com/mnemex/mnemex/pkg/memory/vectorstore/inmemory"
	vectorpostgres "github.com/mnemex/mnemex/pkg/memory/vectorstore/postgres"
	vectorsqvect "github.com/mnemex/mnemex/pkg/memory/vectorstore/sqvect"
	"github.com/mnemex/mnemex/pkg/provider/llm"
)

// DefaultEmbeddingDimensions is used when cfg.LTM.EmbeddingDimensions is 0
// and no real embeddings provider is configured.
const DefaultEmbeddingDimensions = 256

// Providers holds the pluggable backend instances main.go built from the
// config registry. Nil fields fall back to local, dependency-free defaults.
type Providers struct {
	LLM        llm.Provider
	Embeddings embedding.Embedder
}

// App owns every subsystem's lifetime and exposes the orchestrator to the
// MCP tool surface.
type App struct {
	cfg       *config.Config
	providers *Providers

	embedder     embedding.Embedder
	orchestrator *orchestrator.Orchestrator
	mcpServer    *mnemexmcp.Server
	metrics      *telemetry.Metrics
	httpServer   *http.Server

	snapshotPath string

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New], used to inject test doubles.
type Option func(*App)

// WithEmbedder injects an embedder instead of creating one from config.
func WithEmbedder(e embedding.Embedder) Option {
	return func(a *App) { a.embedder = e }
}

// WithSnapshotPath overrides the snapshot file path. Empty disables
// snapshot persistence entirely.
func WithSnapshotPath(path string) Option {
	return func(a *App) { a.snapshotPath = path }
}

// WithMetrics injects a metrics instance instead of using
// [telemetry.DefaultMetrics].
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires every subsystem together from cfg and providers, restoring the
// prior snapshot (if any) before returning.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers, snapshotPath: "mnemex-snapshot.json"}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = telemetry.DefaultMetrics()
	}

	a.initEmbedder()

	vectorStore, err := a.initVectorStore()
	if err != nil {
		return nil, fmt.Errorf("app: init vector store: %w", err)
	}

	graphStore, err := a.initGraphStore()
	if err != nil {
		return nil, fmt.Errorf("app: init graph store: %w", err)
	}

	stmMem := stm.New(stm.Config{MaxTurns: cfg.STM.MaxTurns, TTL: cfg.STM.TTL})
	mtmMem := mtm.New(mtm.Config{MaxChunks: cfg.MTM.MaxChunks})
	ltmMem := hybridltm.New(hybridltm.Config{
		VectorStore: vectorStore,
		GraphStore:  graphStore,
		Embedder:    a.embedder,
	})

	preproc := preprocessor.New(preprocessor.Config{Embedder: a.embedder})
	summ := a.initSummarizer()

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Preprocessor: preproc,
		STM:          stmMem,
		MTM:          mtmMem,
		LTM:          ltmMem,
		Summarizer:   summ,
	}, orchestrator.Config{
		TierDeadline:       cfg.Orchestrator.TierDeadline,
		SummarizeEvery:     cfg.MTM.SummarizeEvery,
		DefaultLTMStrategy: parseStrategy(cfg.LTM.DefaultStrategy),
		Aggregator: aggregator.Config{
			WeightSTM:      cfg.Aggregator.WeightSTM,
			WeightMTM:      cfg.Aggregator.WeightMTM,
			WeightLTM:      cfg.Aggregator.WeightLTM,
			Alpha:          cfg.Aggregator.Alpha,
			DedupThreshold: cfg.Aggregator.DedupThreshold,
		},
		Compressor: compressor.Config{
			MaxTokens:      cfg.Compressor.TokenBudget,
			Strategy:       compressor.Strategy(cfg.Compressor.Strategy),
			PreserveRecent: cfg.Compressor.PreserveRecent,
			MMRLambda:      cfg.Compressor.MMRLambda,
		},
	})

	if a.snapshotPath != "" {
		loaded, err := a.orchestrator.LoadSnapshot(ctx, a.snapshotPath)
		if err != nil {
			slog.WarnContext(ctx, "app: snapshot load failed, starting fresh", slog.String("error", err.Error()))
		} else if loaded {
			slog.InfoContext(ctx, "app: restored snapshot", slog.String("path", a.snapshotPath))
		}
	}

	if cfg.MCP.Enabled {
		a.mcpServer = mnemexmcp.NewServer(a.orchestrator, a.metrics)
	}

	a.initMetricsServer()

	return a, nil
}

// initMetricsServer wires a /metrics (Prometheus) and /healthz endpoint,
// listening on cfg.Server.ListenAddr. A blank address disables it.
func (a *App) initMetricsServer() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a.httpServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: telemetry.Middleware(a.metrics)(mux),
	}
	a.closers = append(a.closers, func() error {
		return a.httpServer.Shutdown(context.Background())
	})
}

// Orchestrator exposes the wired orchestrator, e.g. for an HTTP surface.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// MCPServer returns the wired MCP server, or nil if cfg.MCP.Enabled is false.
func (a *App) MCPServer() *mnemexmcp.Server { return a.mcpServer }

func (a *App) initEmbedder() {
	if a.embedder != nil {
		return
	}
	if a.providers.Embeddings != nil {
		a.embedder = a.providers.Embeddings
		return
	}
	dims := a.cfg.LTM.EmbeddingDimensions
	if dims <= 0 {
		dims = DefaultEmbeddingDimensions
	}
	a.embedder = local.New(dims)
}

func (a *App) initVectorStore() (memory.VectorStore, error) {
	dims := a.embedder.Dimensions()

	switch a.cfg.LTM.VectorBackend {
	case "", "memory":
		return vectorinmemory.New(dims), nil
	case "sqvect":
		path := a.cfg.LTM.SqvectPath
		if path == "" {
			path = "mnemex-vectors.db"
		}
		store, err := vectorsqvect.Open(path, dims)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "pgvector":
		if a.cfg.LTM.PostgresDSN == "" {
			return nil, fmt.Errorf("ltm.postgres_dsn is required when vector_backend is pgvector")
		}
		store, err := vectorpostgres.NewStore(context.Background(), a.cfg.LTM.PostgresDSN, dims)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ltm.vector_backend %q", a.cfg.LTM.VectorBackend)
	}
}

func (a *App) initGraphStore() (memory.GraphStore, error) {
	switch a.cfg.LTM.GraphBackend {
	case "", "memory":
		return graphinmemory.New(), nil
	case "postgres":
		if a.cfg.LTM.PostgresDSN == "" {
			return nil, fmt.Errorf("ltm.postgres_dsn is required when graph_backend is postgres")
		}
		store, err := graphpostgres.NewStore(context.Background(), a.cfg.LTM.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ltm.graph_backend %q", a.cfg.LTM.GraphBackend)
	}
}

func (a *App) initSummarizer() summarizer.Summarizer {
	extractive := &summarizer.Local{
		Embedder:   a.embedder,
		Importance: summarizer.ImportanceWithTarget(a.cfg.MTM.TargetTokens),
	}
	if a.cfg.MTM.Summarizer != "llm" || a.providers.LLM == nil {
		return extractive
	}
	return &summarizer.LLM{Provider: a.providers.LLM, Fallback: extractive}
}

func parseStrategy(s string) hybridltm.Strategy {
	switch s {
	case "vector_only":
		return hybridltm.VectorOnly
	case "graph_only":
		return hybridltm.GraphOnly
	case "graph_first":
		return hybridltm.GraphFirst
	case "parallel":
		return hybridltm.Parallel
	default:
		return hybridltm.VectorFirst
	}
}

// Run blocks until ctx is cancelled. If an MCP server is configured, it
// serves the MCP tool surface over stdio for the lifetime of the call. If a
// metrics listen address is configured, it serves /metrics and /healthz
// concurrently.
func (a *App) Run(ctx context.Context) error {
	if a.httpServer != nil {
		go func() {
			slog.InfoContext(ctx, "metrics server listening", slog.String("addr", a.httpServer.Addr))
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.ErrorContext(ctx, "metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if a.mcpServer == nil {
		slog.InfoContext(ctx, "app running with no MCP surface — orchestrator is only reachable in-process")
		<-ctx.Done()
		return ctx.Err()
	}
	return a.mcpServer.Run(ctx)
}

// Shutdown persists a final snapshot and runs every registered closer in
// order, respecting ctx's deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.snapshotPath != "" {
			if err := a.orchestrator.SaveSnapshot(ctx, a.snapshotPath, a.embedder.Dimensions()); err != nil {
				slog.WarnContext(ctx, "app: snapshot save failed", slog.String("error", err.Error()))
			}
		}

		slog.InfoContext(ctx, "shutting down", slog.Int("closers", len(a.closers)))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.WarnContext(ctx, "shutdown deadline exceeded", slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.WarnContext(ctx, "closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}
	})
	return shutdownErr
}
