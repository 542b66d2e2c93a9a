package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/sachverhalt/internal/config"
)

func TestGeminiGenerate(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Am 01.01.2024 in Berlin..."}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":8}}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(context.Background(), GeminiOptions{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	out, err := Complete(context.Background(), g, Request{Prompt: "Tathandlung: Diebstahl", Model: "gemini-1.5-flash"})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if out.Text != "Am 01.01.2024 in Berlin..." {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.PromptTokens != 7 || out.CompletionTokens != 8 {
		t.Fatalf("unexpected usage: %+v", out)
	}
	if !strings.Contains(gotPath, "gemini-1.5-flash:generateContent") {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if !strings.Contains(gotBody, "Diebstahl") {
		t.Fatalf("request body missing prompt: %s", gotBody)
	}
}

func TestGeminiProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(context.Background(), GeminiOptions{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	_, err = Complete(context.Background(), g, Request{Prompt: "hello"})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestGeminiNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(context.Background(), GeminiOptions{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	_, err = Complete(context.Background(), g, Request{Prompt: "hello"})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected blocked prompt error, got %v", err)
	}
}

func TestGeminiCandidateWithoutText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"finishReason":"SAFETY","index":0}]}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(context.Background(), GeminiOptions{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	out, err := Complete(context.Background(), g, Request{Prompt: "hello"})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected finish reason in error, got text=%q err=%v", out.Text, err)
	}
}

func TestGeminiSendsZeroTemperature(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGeminiGenerator(context.Background(), GeminiOptions{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("create generator: %v", err)
	}
	zero := 0.0
	if _, err := Complete(context.Background(), g, Request{Prompt: "hello", Temperature: &zero}); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(gotBody, `"temperature":0`) {
		t.Fatalf("expected explicit zero temperature in request: %s", gotBody)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), GeminiOptions{})
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestOllamaGenerateStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"llama3.2:latest"`) {
			t.Errorf("expected default model in %s", body)
		}
		_, _ = w.Write([]byte("{\"response\":\"Am \",\"done\":false}\n\n{\"response\":\"Tatort\",\"done\":true,\"eval_count\":3,\"prompt_eval_count\":5}\n"))
	}))
	defer srv.Close()

	var chunks []Chunk
	g := NewOllamaGenerator(srv.URL+"/", "")
	err := g.Generate(context.Background(), Request{Prompt: "p"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(chunks) != 2 || !chunks[0].Partial || chunks[1].Partial {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	out, err := Complete(context.Background(), g, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "Am Tatort" || out.CompletionTokens != 3 || out.PromptTokens != 5 {
		t.Fatalf("unexpected completion: %+v", out)
	}
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "missing"), Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestExecGenerator(t *testing.T) {
	g, err := NewExecGenerator(`sh -c "cat >/dev/null; printf '{\"content\":\"Sachverhalt\",\"completion_tokens\":2}'"`)
	if err != nil {
		t.Fatalf("create exec generator: %v", err)
	}
	out, err := Complete(context.Background(), g, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "Sachverhalt" || out.CompletionTokens != 2 {
		t.Fatalf("unexpected completion: %+v", out)
	}
}

func TestExecGeneratorFailure(t *testing.T) {
	g, err := NewExecGenerator(`sh -c 'echo boom >&2; exit 3'`)
	if err != nil {
		t.Fatalf("create exec generator: %v", err)
	}
	_, err = Complete(context.Background(), g, Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecGeneratorEmptyCommand(t *testing.T) {
	if _, err := NewExecGenerator("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestMockGenerator(t *testing.T) {
	out, err := Complete(context.Background(), NewMockGenerator(), Request{Prompt: " hallo "})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "[mock completion for hallo]" {
		t.Fatalf("unexpected text %q", out.Text)
	}
}

func TestMockGeneratorHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Complete(ctx, NewMockGenerator(), Request{Prompt: "p"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSelectsMode(t *testing.T) {
	if _, err := New(context.Background(), config.LLMConfig{Mode: "gemini"}); !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	g, err := New(context.Background(), config.LLMConfig{Mode: "mock"})
	if err != nil {
		t.Fatalf("new mock: %v", err)
	}
	if _, ok := g.(*mockGenerator); !ok {
		t.Fatalf("expected mock generator, got %T", g)
	}
	g, err = New(context.Background(), config.LLMConfig{Mode: "ollama", Endpoint: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}
	if _, ok := g.(*ollamaGenerator); !ok {
		t.Fatalf("expected ollama generator, got %T", g)
	}
}

func TestRequestFromConfig(t *testing.T) {
	temp := 0.5
	req := RequestFromConfig(config.LLMConfig{Model: "m", MaxTokens: 10, Temperature: &temp}, "prompt")
	if req.Prompt != "prompt" || req.Model != "m" || req.MaxTokens != 10 || req.Temperature == nil || *req.Temperature != 0.5 {
		t.Fatalf("unexpected request: %+v", req)
	}
}
