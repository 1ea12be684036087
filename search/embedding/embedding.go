// Package embedding provides a transport-agnostic embedding generator that
// converts text to vectors via any OpenAI-compatible embedding server. It
// decouples embedding generation from storage so any ingestion or query
// component can convert text to vectors without knowing the backend (CPU
// ONNX, GPU vLLM, RunPod serverless, Ollama, or OpenAI itself).
package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/semindex/search"
)

// Config configures the embedding generator.
type Config struct {
	// Endpoint is the base URL of the embedding server. If empty, New
	// returns a noop generator that produces zero vectors.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on
	// the first call.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds a search.EmbeddingGenerator from config. If Endpoint is empty,
// it returns a noop generator that produces zero vectors of the configured
// dimension — useful for running the pipeline without an embedding server.
func New(cfg Config) search.EmbeddingGenerator {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &noopGenerator{dim: dim, name: "noop:" + cfg.Model}
	}
	return newOpenAIGenerator(cfg)
}

type noopGenerator struct {
	dim  int
	name string
}

func (n *noopGenerator) Name() string { return n.name }

func (n *noopGenerator) Embed(_ context.Context, _ string) (search.Vector, error) {
	return make(search.Vector, n.dim), nil
}

func (n *noopGenerator) EmbedBatch(_ context.Context, texts []string) ([]search.Vector, error) {
	out := make([]search.Vector, len(texts))
	for i := range out {
		out[i] = make(search.Vector, n.dim)
	}
	return out, nil
}

func (n *noopGenerator) Dimension() int { return n.dim }
