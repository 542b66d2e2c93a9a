// Package function is the request-scoped host: one invocation per request,
// shaped as an API Gateway proxy event (the format Netlify and AWS Lambda
// deliver to Go functions).
package function

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/aws/aws-lambda-go/events"

	"github.com/loqalabs/sachverhalt/internal/config"
	"github.com/loqalabs/sachverhalt/internal/generate"
	"github.com/loqalabs/sachverhalt/internal/incident"
	"github.com/loqalabs/sachverhalt/internal/llm"
)

// Builder constructs the shared service. It runs at most once per process.
type Builder func(ctx context.Context) (*generate.Service, error)

// Handler adapts proxy events to the generate service.
type Handler struct {
	build   Builder
	logger  *slog.Logger
	once    sync.Once
	svc     *generate.Service
	initErr error
}

func New(build Builder, logger *slog.Logger) *Handler {
	return &Handler{build: build, logger: logger.With(slog.String("component", "function"))}
}

// FromEnv builds the service from process configuration. A missing
// GEMINI_API_KEY surfaces as config.ErrMissingAPIKey. When level is not nil
// it is set from telemetry.log_level, also on a failed load.
func FromEnv(logger *slog.Logger, level *slog.LevelVar) Builder {
	return func(ctx context.Context) (*generate.Service, error) {
		cfg, err := config.Load("")
		if level != nil {
			level.Set(cfg.Telemetry.SlogLevel())
		}
		if err != nil {
			return nil, err
		}
		gen, err := llm.New(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
		return generate.NewService(generate.NewGateway(gen, cfg.LLM, logger), nil, logger), nil
	}
}

func (h *Handler) service(ctx context.Context) (*generate.Service, error) {
	h.once.Do(func() {
		h.svc, h.initErr = h.build(ctx)
		if h.initErr != nil {
			h.logger.Error("function initialization failed", slog.String("error", h.initErr.Error()))
		}
	})
	return h.svc, h.initErr
}

// Invoke handles one event. Configuration problems are answered with 500 on
// every invocation; an event with neither body nor query parameters gets 400.
func (h *Handler) Invoke(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	svc, err := h.service(ctx)
	if err != nil {
		return respond(generate.ConfigFailure(err)), nil
	}
	fields, err := extract(ev)
	switch {
	case errors.Is(err, errNoData):
		return respond(generate.NoData()), nil
	case err != nil:
		h.logger.Warn("failed to decode event body", slog.String("error", err.Error()))
		return respond(generate.Failure(http.StatusBadRequest, generate.InvalidRequestPrefix+err.Error())), nil
	}
	return respond(svc.Handle(ctx, generate.HostFunction, fields)), nil
}

var errNoData = errors.New("event carries neither body nor query parameters")

// extract reads the urlencoded body, falling back to query parameters.
func extract(ev events.APIGatewayProxyRequest) (incident.Fields, error) {
	if ev.Body != "" {
		body := ev.Body
		if ev.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return incident.Fields{}, fmt.Errorf("base64 body: %w", err)
			}
			body = string(decoded)
		}
		return incident.ParseBody(body), nil
	}
	if len(ev.MultiValueQueryStringParameters) > 0 {
		return incident.FromValues(url.Values(ev.MultiValueQueryStringParameters)), nil
	}
	if len(ev.QueryStringParameters) > 0 {
		return incident.FromMap(ev.QueryStringParameters), nil
	}
	return incident.Fields{}, errNoData
}

func respond(env generate.Envelope) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: env.Status(),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Body:       string(env.Body()),
	}
}
