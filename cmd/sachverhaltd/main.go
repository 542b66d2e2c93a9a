package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/sachverhalt/internal/audit"
	"github.com/loqalabs/sachverhalt/internal/bus"
	"github.com/loqalabs/sachverhalt/internal/config"
	"github.com/loqalabs/sachverhalt/internal/generate"
	"github.com/loqalabs/sachverhalt/internal/llm"
	"github.com/loqalabs/sachverhalt/internal/natsserver"
	"github.com/loqalabs/sachverhalt/internal/responder"
	"github.com/loqalabs/sachverhalt/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	store, err := audit.Open(ctx, cfg.Audit, logger.With(slog.String("component", "audit")))
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	svc := generate.NewService(generate.NewGateway(gen, cfg.LLM, logger), store, logger)

	if cfg.Bus.Enabled {
		closeBus, err := startBus(ctx, cfg.Bus, svc, logger)
		if err != nil {
			return err
		}
		defer closeBus()
	}

	return runtime.New(cfg, svc, logger).Start(ctx)
}

func startBus(ctx context.Context, cfg config.BusConfig, svc *generate.Service, logger *slog.Logger) (func(), error) {
	ns, err := natsserver.Start(cfg, logger)
	if err != nil {
		return nil, err
	}
	if ns != nil {
		cfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, cfg, logger)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	r := responder.NewService(ctx, client.Conn(), cfg.Subject, svc, logger)
	if err := r.Start(); err != nil {
		client.Close()
		ns.Shutdown()
		return nil, err
	}
	return func() {
		r.Close()
		client.Close()
		ns.Shutdown()
	}, nil
}
