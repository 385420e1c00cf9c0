// Command mnemexd runs the mnemex conversational-memory daemon, serving the
// memory_add_message and memory_get_context MCP tools over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/mnemex/mnemex/internal/app"
	"github.com/mnemex/mnemex/internal/config"
	"github.com/mnemex/mnemex/internal/telemetry"
	"github.com/mnemex/mnemex/pkg/embedding"
	"github.com/mnemex/mnemex/pkg/embedding/local"
	embedollama "github.com/mnemex/mnemex/pkg/embedding/ollama"
	embedopenai "github.com/mnemex/mnemex/pkg/embedding/openai"
	"github.com/mnemex/mnemex/pkg/provider/llm"
	"github.com/mnemex/mnemex/pkg/provider/llm/anyllm"
	llmopenai "github.com/mnemex/mnemex/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mnemexd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mnemexd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mnemexd starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"vector_backend", cfg.LTM.VectorBackend,
		"graph_backend", cfg.LTM.GraphBackend,
	)

	shutdownTelemetry, err := telemetry.InitProvider(context.Background(), telemetry.ProviderConfig{
		ServiceName:    "mnemexd",
		ServiceVersion: "0.1.0",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("mnemexd ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires every LLM and embeddings backend mnemex
// ships with into reg, keyed by the names [config.ValidProviderNames] lists.
func registerBuiltinProviders(reg *config.Registry) {
	// openai goes through the dedicated openai-go-backed provider so it
	// exercises that SDK directly rather than any-llm-go's shim.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []llmopenai.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range []string{"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		name := name
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(name, entry.Model, anyllmOptionsFor(entry)...)
		})
	}

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embedding.Embedder, error) {
		return embedopenai.New(entry.APIKey, entry.Model)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embedding.Embedder, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return embedollama.New(baseURL, entry.Model)
	})
	reg.RegisterEmbeddings("hash", func(entry config.ProviderEntry) (embedding.Embedder, error) {
		dims := local.DefaultDimensions
		if d, ok := entry.Options["dimensions"].(int); ok && d > 0 {
			dims = d
		}
		return local.New(dims), nil
	})
}

func anyllmOptionsFor(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// buildProviders instantiates the configured LLM and embeddings providers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          mnemex — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printField("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printField("Vector backend", cfg.LTM.VectorBackend, "")
	printField("Graph backend", cfg.LTM.GraphBackend, "")
	fmt.Printf("║  MCP enabled     : %-19t ║\n", cfg.MCP.Enabled)
	printField("Metrics addr", cfg.Server.ListenAddr, "")
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", kind, value)
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
