package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/sachverhalt/internal/config"
	"github.com/loqalabs/sachverhalt/internal/generate"
	"github.com/loqalabs/sachverhalt/internal/incident"
	"github.com/loqalabs/sachverhalt/internal/web"
)

// Memory budget for multipart parsing; file parts beyond it spill to disk.
const multipartMemory = 32 << 20

// Runtime is the always-on HTTP host.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	svc           *generate.Service
	httpServer    *http.Server
	metricsServer *http.Server
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, svc *generate.Service, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With(slog.String("component", "http-runtime")),
	}
}

// Handler returns the public routes.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", web.IndexHandler())
	mux.HandleFunc("/api/generate-text", r.handleGenerate)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 2)
	r.serve(r.httpServer, "http", errCh)

	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics", errCh)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	return serveErr
}

func (r *Runtime) serve(srv *http.Server, name string, errCh chan<- error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

func (r *Runtime) handleGenerate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		generate.Failure(http.StatusMethodNotAllowed, generate.MethodNotAllowedMessage).Write(w)
		return
	}
	fields, err := readForm(req)
	if err != nil {
		r.logger.Warn("failed to read form", slog.String("error", err.Error()))
		generate.Failure(http.StatusBadRequest, generate.InvalidRequestPrefix+err.Error()).Write(w)
		return
	}
	r.svc.Handle(req.Context(), generate.HostServer, fields).Write(w)
}

// readForm extracts the fields from an urlencoded or multipart body of any
// length. Other content types yield empty fields.
func readForm(req *http.Request) (incident.Fields, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := req.ParseMultipartForm(multipartMemory); err != nil {
			return incident.Fields{}, err
		}
		return incident.FromValues(req.MultipartForm.Value), nil
	case "application/x-www-form-urlencoded":
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return incident.Fields{}, err
		}
		return incident.ParseBody(string(body)), nil
	}
	return incident.Fields{}, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
