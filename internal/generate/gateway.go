// Package generate turns incident fields into a generated Sachverhalt text.
// It is shared by every host: the HTTP server, the serverless function, the
// bus responder and the CLI.
package generate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/sachverhalt/internal/config"
	"github.com/loqalabs/sachverhalt/internal/llm"
)

const instrumentationName = "github.com/loqalabs/sachverhalt/generate"

// Result is the outcome of one provider call: Text on success, Err otherwise.
type Result struct {
	Text             string
	Err              error
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Gateway owns the provider generator and performs one call per prompt. It
// holds no per-request state and is safe for concurrent use.
type Gateway struct {
	gen     llm.Generator
	cfg     config.LLMConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	calls   metric.Int64Counter
	latency metric.Float64Histogram
}

func NewGateway(gen llm.Generator, cfg config.LLMConfig, logger *slog.Logger) *Gateway {
	g := &Gateway{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "generation-gateway")),
		tracer: otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)
	var err error
	if g.calls, err = meter.Int64Counter("sachverhalt.provider.calls",
		metric.WithDescription("Provider calls by outcome")); err != nil {
		g.logger.Warn("failed to create provider call counter", slogError(err))
	}
	if g.latency, err = meter.Float64Histogram("sachverhalt.provider.latency",
		metric.WithDescription("Provider call latency"), metric.WithUnit("s")); err != nil {
		g.logger.Warn("failed to create provider latency histogram", slogError(err))
	}
	return g
}

// Generate submits prompt to the provider. Provider failures are returned in
// Result.Err, never as a panic or a second return value.
func (g *Gateway) Generate(ctx context.Context, prompt string) Result {
	ctx, span := g.tracer.Start(ctx, "provider.generate",
		trace.WithAttributes(
			attribute.String("llm.mode", g.cfg.Mode),
			attribute.String("llm.model", g.cfg.Model),
			attribute.Int("llm.prompt_bytes", len(prompt)),
		))
	defer span.End()

	g.logger.Info("Neue Anfrage erhalten.", slog.Int("prompt_bytes", len(prompt)))

	start := time.Now()
	out, err := llm.Complete(ctx, g.gen, llm.RequestFromConfig(g.cfg, prompt))
	res := Result{
		Text:             out.Text,
		Err:              err,
		Latency:          time.Since(start),
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error(ProviderErrorPrefix+err.Error(), slog.Duration("latency", res.Latency))
	} else {
		g.logger.Info("API-Anfrage erfolgreich.",
			slog.Duration("latency", res.Latency),
			slog.Int("prompt_tokens", res.PromptTokens),
			slog.Int("completion_tokens", res.CompletionTokens))
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("mode", g.cfg.Mode))
	if g.calls != nil {
		g.calls.Add(ctx, 1, attrs)
	}
	if g.latency != nil {
		g.latency.Record(ctx, res.Latency.Seconds(), attrs)
	}
	return res
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
