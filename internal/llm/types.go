package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/sachverhalt/internal/config"
)

// Request describes a language model prompt. A nil Temperature keeps the
// backend default.
type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Chunk represents model output. Non-streaming backends emit a single final chunk.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// Completion is the accumulated output of one Generate call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Complete runs req against g and concatenates every chunk.
func Complete(ctx context.Context, g Generator, req Request) (Completion, error) {
	var (
		b   strings.Builder
		out Completion
	)
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		if c.PromptTokens > 0 {
			out.PromptTokens = c.PromptTokens
		}
		if c.CompletionTokens > 0 {
			out.CompletionTokens = c.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	out.Text = b.String()
	return out, nil
}

// RequestFromConfig builds request defaults from config.
func RequestFromConfig(cfg config.LLMConfig, prompt string) Request {
	return Request{Prompt: prompt, Model: cfg.Model, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}

// New builds the generator selected by cfg.Mode. It validates cfg first, so a
// gemini configuration without key fails with config.ErrMissingAPIKey.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	if err := config.ValidateLLM(cfg); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case "gemini":
		return NewGeminiGenerator(ctx, GeminiOptions{APIKey: cfg.APIKey, BaseURL: cfg.Endpoint})
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "mock":
		return NewMockGenerator(), nil
	}
	return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
}
