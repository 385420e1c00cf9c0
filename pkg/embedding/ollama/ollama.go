// Package ollama provides an [embedding.Embedder] backed by a local Ollama
// server, for deployments that want memory embeddings without calling out
// to a hosted API.
//
// Ollama (https://ollama.com) hosts local embedding models such as
// nomic-embed-text, mxbai-embed-large, and all-minilm, reachable via its
// native /api/embed endpoint.
//
// Only standard library packages are used — no additional dependencies are
// required beyond net/http and encoding/json.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mnemex/mnemex/pkg/embedding"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// Ensure Embedder implements the embedding.Embedder interface.
var _ embedding.Embedder = (*Embedder)(nil)

// Embedder implements embedding.Embedder using a local Ollama server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions option.
//  2. Look-up in the built-in knownDimensions table for recognised model names.
//  3. Auto-detection: a single probe embed on the first Dimensions call, its
//     result cached for the lifetime of the Embedder.
//
// Embedder is safe for concurrent use.
type Embedder struct {
	baseURL    string
	model      string
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
	detectErr  error
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for New.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the embedding dimension, bypassing the look-up
// table and the probe request Dimensions() would otherwise issue.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// New constructs a new Ollama-backed Embedder.
//
// baseURL is the Ollama server's base URL; if empty, DefaultBaseURL is used.
// model must not be empty (e.g., "nomic-embed-text").
func New(baseURL string, model string, opts ...Option) (*Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embedding: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	e := &Embedder{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		dimensions: cfg.dimensions,
	}
	if e.dimensions == 0 {
		e.dimensions = knownDimensions(model)
	}
	return e, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embedding: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch implements embedding.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embedding: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embedding.Embedder.
func (e *Embedder) Dimensions() int {
	if e.dimensions != 0 {
		return e.dimensions
	}
	e.detectOnce.Do(func() {
		vecs, err := e.callEmbed(context.Background(), []string{"probe"})
		if err != nil {
			e.detectErr = err
			return
		}
		if len(vecs) > 0 {
			e.dimensions = len(vecs[0])
		}
	})
	return e.dimensions
}

// ModelID implements embedding.Embedder.
func (e *Embedder) ModelID() string {
	return e.model
}

func (e *Embedder) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the well-known output dimension for recognised
// Ollama embedding model names. Returns 0 for unknown models, triggering
// auto-detection on the first Dimensions() call.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
