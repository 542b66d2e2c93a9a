package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/loqalabs/sachverhalt/internal/config"
)

// GeminiOptions configures the Gemini client. BaseURL and HTTPClient are
// only set to point the client at a fake server.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type geminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator creates the Gemini client once. The returned generator is
// safe for concurrent use.
func NewGeminiGenerator(ctx context.Context, opts GeminiOptions) (Generator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, config.ErrMissingAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{client: client}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = config.DefaultGeminiModel
	}
	gc := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		return err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return errors.New("gemini returned no candidates")
	}

	text := resp.Text()
	if text == "" {
		if reason := resp.Candidates[0].FinishReason; reason != "" {
			return fmt.Errorf("gemini returned no text (finish reason %s)", reason)
		}
		return errors.New("gemini returned no text")
	}

	chunk := Chunk{
		Content: text,
		Latency: time.Since(start),
	}
	if usage := resp.UsageMetadata; usage != nil {
		chunk.PromptTokens = int(usage.PromptTokenCount)
		chunk.CompletionTokens = int(usage.CandidatesTokenCount)
	}
	return consumer(chunk)
}
