// Package audit keeps an optional SQLite log of generation outcomes. Only
// metadata is stored: never the incident fields or the generated text.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/sachverhalt/internal/config"
)

// Entry is one recorded generation outcome.
type Entry struct {
	ID          string
	Host        string
	Status      int
	Latency     time.Duration
	PromptBytes int
	Error       string
	CreatedAt   time.Time
}

// Store wraps a SQLite-backed outcome log. In ephemeral mode it has no
// database and every method is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.AuditConfig
	log   *slog.Logger
	clock func() time.Time

	// Prune runs again after every pruneEvery inserts.
	pruneEvery int64
	inserts    atomic.Int64
}

const pruneInterval = 100

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now, pruneEvery: pruneInterval}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("audit vacuum failed", slog.String("error", err.Error()))
		}
	}

	if cfg.RetentionMode == "session" {
		if _, err := db.ExecContext(ctx, `DELETE FROM generations`); err != nil {
			log.Warn("audit reset failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("audit prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    host TEXT NOT NULL,
    status INTEGER NOT NULL,
    latency_ms INTEGER NOT NULL,
    prompt_bytes INTEGER NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

// Enabled reports whether entries are persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// Record writes an entry. ID and CreatedAt are filled in when empty.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if !s.Enabled() {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations(id, host, status, latency_ms, prompt_bytes, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Host, e.Status, e.Latency.Milliseconds(), e.PromptBytes, e.Error, e.CreatedAt)
	if err != nil {
		return err
	}
	if s.pruneEvery > 0 && s.inserts.Add(1)%s.pruneEvery == 0 {
		if err := s.Prune(ctx); err != nil {
			s.log.Warn("audit prune failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, status, latency_ms, prompt_bytes, error, created_at
		 FROM generations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			latencyMS int64
			errText   sql.NullString
			created   string
		)
		if err := rows.Scan(&e.ID, &e.Host, &e.Status, &latencyMS, &e.PromptBytes, &errText, &created); err != nil {
			return nil, err
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		e.Error = errText.String
		e.CreatedAt = parseTimestamp(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies the configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM generations WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM generations WHERE id IN (
			SELECT id FROM generations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// sqlite hands TIMESTAMP columns back either as time.Time (rendered by
// database/sql as RFC 3339) or in the driver's own text layout.
func parseTimestamp(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999 -0700 MST"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}
