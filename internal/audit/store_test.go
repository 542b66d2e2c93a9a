package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/sachverhalt/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.AuditConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if st.Enabled() {
		t.Fatal("ephemeral store should not be enabled")
	}
	if err := st.Record(ctx, Entry{Host: "server", Status: 200}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	entries, err := st.Recent(ctx, 10)
	if err != nil || entries != nil {
		t.Fatalf("expected no entries, got %v %v", entries, err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	cfg := config.AuditConfig{Path: filepath.Join(t.TempDir(), "audit.db"), RetentionMode: "persistent"}
	st, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Record(ctx, Entry{Host: "server", Status: 200, Latency: 1500 * time.Millisecond, PromptBytes: 321}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := st.Record(ctx, Entry{Host: "function", Status: 500, Error: "quota"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	var ok bool
	for _, e := range entries {
		if e.ID == "" {
			t.Fatalf("expected generated id: %+v", e)
		}
		if e.Host == "server" {
			ok = e.Status == 200 && e.Latency == 1500*time.Millisecond && e.PromptBytes == 321 && e.Error == ""
		}
	}
	if !ok {
		t.Fatalf("server entry not round-tripped: %+v", entries)
	}
}

func TestSessionModeResetsOnOpen(t *testing.T) {
	ctx := context.Background()
	cfg := config.AuditConfig{Path: filepath.Join(t.TempDir(), "audit.db"), RetentionMode: "session"}
	st, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	if err := st.Record(ctx, Entry{Host: "server", Status: 200}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = st.Close()

	st, err = Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen audit store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	entries, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected session store to start empty, got %d entries", len(entries))
	}
}

func TestPruneByDaysAndRecords(t *testing.T) {
	ctx := context.Background()
	cfg := config.AuditConfig{Path: filepath.Join(t.TempDir(), "audit.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRecords: 1}
	st, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := st.Record(ctx, Entry{ID: "old", Host: "server", Status: 200}); err != nil {
		t.Fatalf("record: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"new-1", "new-2"} {
		if err := st.Record(ctx, Entry{ID: id, Host: "server", Status: 200}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := st.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", len(entries))
	}
	if entries[0].ID == "old" {
		t.Fatalf("expected old entry pruned")
	}
}

func TestRecordPrunesPeriodically(t *testing.T) {
	ctx := context.Background()
	cfg := config.AuditConfig{Path: filepath.Join(t.TempDir(), "audit.db"), RetentionMode: "persistent", MaxRecords: 2}
	st, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	st.pruneEvery = 2

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		st.clock = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		if err := st.Record(ctx, Entry{ID: id, Host: "server", Status: 200}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "d" || entries[1].ID != "c" {
		t.Fatalf("expected the two newest entries to survive, got %+v", entries)
	}
}
