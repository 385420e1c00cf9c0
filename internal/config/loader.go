package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama", "hash"},
}

// ValidVectorBackends and ValidGraphBackends enumerate the LTM backend names
// accepted by [Validate].
var (
	ValidVectorBackends = []string{"memory", "sqvect", "pgvector"}
	ValidGraphBackends  = []string{"memory", "postgres"}
	ValidStrategies     = []string{"vector_only", "graph_only", "vector_first", "graph_first", "parallel"}
	ValidCompressors    = []string{"truncate", "score_based", "mmr"}
	ValidSummarizers    = []string{"local", "llm"}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.LTM.VectorBackend != "" && !slices.Contains(ValidVectorBackends, cfg.LTM.VectorBackend) {
		errs = append(errs, fmt.Errorf("ltm.vector_backend %q is invalid; valid values: %v", cfg.LTM.VectorBackend, ValidVectorBackends))
	}
	if cfg.LTM.GraphBackend != "" && !slices.Contains(ValidGraphBackends, cfg.LTM.GraphBackend) {
		errs = append(errs, fmt.Errorf("ltm.graph_backend %q is invalid; valid values: %v", cfg.LTM.GraphBackend, ValidGraphBackends))
	}
	if cfg.LTM.DefaultStrategy != "" && !slices.Contains(ValidStrategies, cfg.LTM.DefaultStrategy) {
		errs = append(errs, fmt.Errorf("ltm.default_strategy %q is invalid; valid values: %v", cfg.LTM.DefaultStrategy, ValidStrategies))
	}
	if cfg.Compressor.Strategy != "" && !slices.Contains(ValidCompressors, cfg.Compressor.Strategy) {
		errs = append(errs, fmt.Errorf("compressor.strategy %q is invalid; valid values: %v", cfg.Compressor.Strategy, ValidCompressors))
	}
	if cfg.MTM.Summarizer != "" && !slices.Contains(ValidSummarizers, cfg.MTM.Summarizer) {
		errs = append(errs, fmt.Errorf("mtm.summarizer %q is invalid; valid values: %v", cfg.MTM.Summarizer, ValidSummarizers))
	}

	if cfg.Aggregator.Alpha < 0 || cfg.Aggregator.Alpha > 1 {
		if cfg.Aggregator.Alpha != 0 {
			errs = append(errs, fmt.Errorf("aggregator.alpha %.2f is out of range [0, 1]", cfg.Aggregator.Alpha))
		}
	}

	if (cfg.LTM.GraphBackend == "postgres" || cfg.LTM.VectorBackend == "pgvector") && cfg.LTM.PostgresDSN == "" {
		errs = append(errs, errors.New("ltm.postgres_dsn is required when a postgres-backed store is selected"))
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.LTM.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but ltm.embedding_dimensions is not set; using the embedding provider's own dimensions")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
