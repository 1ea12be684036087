// Package textgen provides a search.TextGenerator that calls an
// OpenAI-compatible chat completions endpoint.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/semindex/search"
)

// Config configures the chat-completions client.
type Config struct {
	// Endpoint is the base URL of the chat completions server. If empty,
	// New returns a generator that answers with the raw retrieved context.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `json:"temperature" yaml:"temperature"`

	// Timeout per HTTP request. Default: 120s (generation is slower than embedding).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds a search.TextGenerator from config. If Endpoint is empty, it
// returns a passthroughGenerator that answers with the concatenated
// retrieved context rather than calling a model.
func New(cfg Config) search.TextGenerator {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return &passthroughGenerator{}
	}
	return &chatGenerator{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		maxTok:   cfg.MaxTokens,
		temp:     cfg.Temperature,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
	}
}

type passthroughGenerator struct{}

func (g *passthroughGenerator) Name() string { return "passthrough" }

func (g *passthroughGenerator) Generate(_ context.Context, _ string, context []search.Match) (string, error) {
	var b strings.Builder
	for i, m := range context {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Text)
	}
	return b.String(), nil
}

type chatGenerator struct {
	endpoint string
	model    string
	maxTok   int
	temp     float32
	client   *http.Client
	logger   *slog.Logger
}

func (g *chatGenerator) Name() string { return "chat:" + g.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (g *chatGenerator) Generate(ctx context.Context, question string, matches []search.Match) (string, error) {
	var ctxBuilder strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&ctxBuilder, "[%d] %s\n", i+1, m.Text)
	}

	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: "Answer the question using only the provided context. If the context is insufficient, say so."},
			{Role: "user", Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", ctxBuilder.String(), question)},
		},
		MaxTokens:   g.maxTok,
		Temperature: g.temp,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := g.endpoint + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Error("chat completion HTTP error", "status", resp.StatusCode, "body", string(respBody), "duration", duration)
		return "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(respBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from %s", url)
	}

	g.logger.Debug("chat completion received", "duration", duration, "tokens", out.Usage.TotalTokens, "finish_reason", out.Choices[0].FinishReason)
	return out.Choices[0].Message.Content, nil
}
