package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/loqalabs/sachverhalt/internal/audit"
	"github.com/loqalabs/sachverhalt/internal/bus"
	"github.com/loqalabs/sachverhalt/internal/config"
	"github.com/loqalabs/sachverhalt/internal/generate"
	"github.com/loqalabs/sachverhalt/internal/incident"
	"github.com/loqalabs/sachverhalt/internal/llm"
	"github.com/loqalabs/sachverhalt/internal/protocol"
	"github.com/loqalabs/sachverhalt/internal/responder"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "expected 'render', 'generate', 'request', 'audit' or 'version'")
		return 2
	}

	switch args[0] {
	case "render":
		fs, fields := fieldFlags("render", stderr)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		fmt.Fprintln(stdout, fields.Prompt())
		return 0
	case "generate":
		fs, fields := fieldFlags("generate", stderr)
		configPath := fs.String("config", "", "Path to configuration file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		env, err := runGenerate(*configPath, *fields, stderr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return printEnvelope(stdout, env)
	case "request":
		fs, fields := fieldFlags("request", stderr)
		server := fs.String("server", "nats://localhost:4222", "NATS server URL")
		subject := fs.String("subject", protocol.SubjectGenerate, "Request subject")
		timeout := fs.Duration("timeout", 2*time.Minute, "Reply timeout")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		env, err := runRequest(*server, *subject, *timeout, *fields, stderr)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return printEnvelope(stdout, env)
	case "audit":
		fs := flag.NewFlagSet("audit", flag.ContinueOnError)
		fs.SetOutput(stderr)
		configPath := fs.String("config", "", "Path to configuration file")
		limit := fs.Int("limit", 20, "Number of entries to show")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if err := runAudit(*configPath, *limit, stdout, stderr); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	case "version":
		fmt.Fprintln(stdout, version)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}
}

func fieldFlags(name string, stderr io.Writer) (*flag.FlagSet, *incident.Fields) {
	var f incident.Fields
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.Tatort, incident.KeyTatort, "", "Tatzeit und -ort")
	fs.StringVar(&f.Tathandlung, incident.KeyTathandlung, "", "Tathandlung")
	fs.StringVar(&f.Zeugen, incident.KeyZeugen, "", "Zeugen und Festnahme")
	fs.StringVar(&f.Beweismittel, incident.KeyBeweismittel, "", "Beweismittel")
	return fs, &f
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runGenerate(configPath string, fields incident.Fields, stderr io.Writer) (generate.Envelope, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return generate.Envelope{}, err
	}
	logger := newLogger(stderr, cfg.Telemetry.SlogLevel())
	ctx := context.Background()
	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return generate.Envelope{}, err
	}
	svc := generate.NewService(generate.NewGateway(gen, cfg.LLM, logger), nil, logger)
	return svc.Handle(ctx, generate.HostCLI, fields), nil
}

func runRequest(server, subject string, timeout time.Duration, fields incident.Fields, stderr io.Writer) (generate.Envelope, error) {
	logger := newLogger(stderr, slog.LevelWarn)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := bus.Connect(ctx, config.BusConfig{Servers: []string{server}, ConnectTimeout: 2000}, logger)
	if err != nil {
		return generate.Envelope{}, err
	}
	defer client.Close()
	return responder.Request(ctx, client.Conn(), subject, fields)
}

// runAudit lists recent generation outcomes. The provider key is not needed
// to read the log.
func runAudit(configPath string, limit int, stdout, stderr io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil && !errors.Is(err, config.ErrMissingAPIKey) {
		return err
	}
	ctx := context.Background()
	store, err := audit.Open(ctx, cfg.Audit, newLogger(stderr, slog.LevelWarn))
	if err != nil {
		return err
	}
	defer store.Close()
	if !store.Enabled() {
		return fmt.Errorf("audit log disabled (retention_mode=%s)", cfg.Audit.RetentionMode)
	}
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Zeit", "Host", "Status", "Latenz", "Prompt (Bytes)", "Fehler"})
	for _, e := range entries {
		w.AppendRow(table.Row{e.CreatedAt.Local().Format(time.DateTime), e.Host, e.Status, e.Latency, e.PromptBytes, e.Error})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})
	fmt.Fprintln(stdout, w.Render())
	return nil
}

func printEnvelope(stdout io.Writer, env generate.Envelope) int {
	fmt.Fprintln(stdout, string(env.Body()))
	if env.Status() != http.StatusOK {
		return 1
	}
	return 0
}
