package config_test

import (
	"strings"
	"testing"

	"github.com/mnemex/mnemex/internal/config"
)

func TestValidate_InvalidVectorBackend(t *testing.T) {
	t.Parallel()
	yaml := `
ltm:
  vector_backend: redis
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid vector_backend, got nil")
	}
	if !strings.Contains(err.Error(), "vector_backend") {
		t.Errorf("error should mention vector_backend, got: %v", err)
	}
}

func TestValidate_InvalidGraphBackend(t *testing.T) {
	t.Parallel()
	yaml := `
ltm:
  graph_backend: neo4j
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid graph_backend, got nil")
	}
}

func TestValidate_InvalidStrategy(t *testing.T) {
	t.Parallel()
	yaml := `
ltm:
  default_strategy: fastest
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid default_strategy, got nil")
	}
}

func TestValidate_InvalidCompressorStrategy(t *testing.T) {
	t.Parallel()
	yaml := `
compressor:
  strategy: zip
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid compressor.strategy, got nil")
	}
}

func TestValidate_PostgresBackendRequiresDSN(t *testing.T) {
	t.Parallel()
	yaml := `
ltm:
  graph_backend: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for postgres backend without dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error should mention postgres_dsn, got: %v", err)
	}
}

func TestValidate_PostgresBackendWithDSNIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
ltm:
  graph_backend: postgres
  postgres_dsn: "postgres://localhost/test"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidAlpha(t *testing.T) {
	t.Parallel()
	yaml := `
aggregator:
  alpha: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range alpha, got nil")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
ltm:
  vector_backend: redis
  default_strategy: fastest
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "vector_backend") || !strings.Contains(errStr, "default_strategy") {
		t.Errorf("error should mention both failures, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
