package generate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/loqalabs/sachverhalt/internal/audit"
	"github.com/loqalabs/sachverhalt/internal/incident"
)

// Host names recorded with every outcome.
const (
	HostServer   = "server"
	HostFunction = "function"
	HostBus      = "bus"
	HostCLI      = "cli"
)

// Recorder receives outcome metadata. *audit.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Service runs fields → prompt → gateway → envelope.
type Service struct {
	gateway  *Gateway
	recorder Recorder
	logger   *slog.Logger
}

// NewService wires the pipeline. recorder may be nil.
func NewService(gateway *Gateway, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{
		gateway:  gateway,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "generate-service")),
	}
}

// Handle renders the prompt for f, calls the provider once and maps the
// outcome to an envelope.
func (s *Service) Handle(ctx context.Context, host string, f incident.Fields) Envelope {
	prompt := f.Prompt()
	res := s.gateway.Generate(ctx, prompt)
	env := FromResult(res)
	s.record(ctx, host, env, res, len(prompt))
	return env
}

func (s *Service) record(ctx context.Context, host string, env Envelope, res Result, promptBytes int) {
	if s.recorder == nil {
		return
	}
	entry := audit.Entry{
		Host:        host,
		Status:      env.Status(),
		Latency:     res.Latency,
		PromptBytes: promptBytes,
	}
	if env.Status() != http.StatusOK {
		entry.Error, _ = env.Error()
	}
	// the client may already be gone; the record should still land
	if err := s.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record generation outcome", slogError(err))
	}
}
