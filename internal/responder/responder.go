// Package responder serves generation over NATS request/reply, a third host
// next to the HTTP server and the serverless function.
package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/sachverhalt/internal/generate"
	"github.com/loqalabs/sachverhalt/internal/incident"
	"github.com/loqalabs/sachverhalt/internal/protocol"
)

const drainTimeout = 10 * time.Second

type Service struct {
	conn    *nats.Conn
	subject string
	svc     *generate.Service
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, conn *nats.Conn, subject string, svc *generate.Service, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if subject == "" {
		subject = protocol.SubjectGenerate
	}
	return &Service{
		conn:    conn,
		subject: subject,
		svc:     svc,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "bus-responder")),
	}
}

// Start joins the worker queue group so that several processes can share the subject.
func (s *Service) Start() error {
	sub, err := s.conn.QueueSubscribe(s.subject, protocol.QueueGenerate, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe generate requests: %w", err)
	}
	s.sub = sub
	s.logger.Info("bus responder started", slog.String("subject", s.subject))
	return nil
}

// Close stops accepting requests, answers the ones already queued and waits
// for in-flight ones.
func (s *Service) Close() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn("failed to drain subscription", slog.String("error", err.Error()))
		}
		s.waitDrained(drainTimeout)
	}
	s.wg.Wait()
	s.cancel()
}

// Drain is asynchronous; the subscription turns invalid once every pending
// message has been handed to handleRequest.
func (s *Service) waitDrained(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.sub.IsValid() {
		s.logger.Warn("subscription drain timed out", slog.Duration("timeout", timeout))
	}
}

func (s *Service) Healthy() bool {
	return s.sub != nil && s.sub.IsValid()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		s.logger.Warn("dropping generate request without reply subject")
		return
	}
	if len(msg.Data) == 0 {
		s.respond(msg, generate.NoData())
		return
	}
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slog.String("error", err.Error()))
		s.respond(msg, generate.Failure(http.StatusBadRequest, generate.InvalidRequestPrefix+err.Error()))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.respond(msg, s.svc.Handle(s.ctx, generate.HostBus, incident.Fields(req)))
	}()
}

func (s *Service) respond(msg *nats.Msg, env generate.Envelope) {
	data, err := json.Marshal(replyFrom(env))
	if err != nil {
		s.logger.Warn("failed to encode generate reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to publish generate reply", slog.String("error", err.Error()))
	}
}

func replyFrom(env generate.Envelope) protocol.GenerateReply {
	reply := protocol.GenerateReply{Status: env.Status()}
	if msg, failed := env.Error(); failed {
		reply.Error = &msg
	} else {
		text, _ := env.Text()
		reply.Text = &text
	}
	return reply
}

// Request sends fields to subject and decodes the reply into an envelope.
func Request(ctx context.Context, conn *nats.Conn, subject string, f incident.Fields) (generate.Envelope, error) {
	if subject == "" {
		subject = protocol.SubjectGenerate
	}
	data, err := json.Marshal(protocol.GenerateRequest(f))
	if err != nil {
		return generate.Envelope{}, err
	}
	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return generate.Envelope{}, fmt.Errorf("generate request: %w", err)
	}
	var reply protocol.GenerateReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return generate.Envelope{}, fmt.Errorf("decode generate reply: %w", err)
	}
	switch {
	case reply.Error != nil && reply.Text == nil:
		return generate.Failure(reply.Status, *reply.Error), nil
	case reply.Text != nil && reply.Error == nil:
		return generate.Success(*reply.Text).WithStatus(reply.Status), nil
	}
	return generate.Envelope{}, errors.New("generate reply must carry exactly one of text and error")
}
