package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/config"
	_ "modernc.org/sqlite"
)

// Generation records one synthesis request. Audio is never stored.
type Generation struct {
	ID            string
	Text          string
	Voice         string
	Preset        string
	Seed          int64
	Deterministic bool
	Status        string
	Error         string
	SampleRate    int
	Samples       int
	Duration      time.Duration
	CreatedAt     time.Time
}

// Store wraps a SQLite-backed generation history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. The ephemeral mode keeps
// nothing and needs no database.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    voice TEXT,
    preset TEXT,
    seed INTEGER,
    deterministic INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT,
    sample_rate INTEGER,
    samples INTEGER,
    duration_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether records survive the call.
func (s *Store) Persistent() bool {
	return s != nil && s.db != nil
}

// AppendGeneration writes one history row.
func (s *Store) AppendGeneration(ctx context.Context, g Generation) error {
	if !s.Persistent() {
		return nil
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations(id, text, voice, preset, seed, deterministic, status, error, sample_rate, samples, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Text, g.Voice, g.Preset, g.Seed, g.Deterministic, g.Status, g.Error,
		g.SampleRate, g.Samples, g.Duration.Milliseconds(), g.CreatedAt.UTC())
	return err
}

// ListGenerations returns up to limit rows, newest first.
func (s *Store) ListGenerations(ctx context.Context, limit int) ([]Generation, error) {
	if !s.Persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, voice, preset, seed, deterministic, status, error, sample_rate, samples, duration_ms, created_at
		 FROM generations ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Generation
	for rows.Next() {
		var (
			g          Generation
			durationMS int64
			errText    sql.NullString
			created    string
		)
		if err := rows.Scan(&g.ID, &g.Text, &g.Voice, &g.Preset, &g.Seed, &g.Deterministic, &g.Status, &errText,
			&g.SampleRate, &g.Samples, &durationMS, &created); err != nil {
			return nil, err
		}
		g.Error = errText.String
		g.CreatedAt = parseTimestamp(created)
		g.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, g)
	}
	return out, rows.Err()
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Prune applies configured retention (called on startup and by the runtime ticker).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Persistent() {
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
	if s.cfg.MaxGenerations > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM generations WHERE id IN (
			SELECT id FROM generations ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxGenerations)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
