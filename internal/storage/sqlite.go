package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reportbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Open builds the configured store. Returns (nil, nil) when storage is
// disabled; callers tolerate a nil store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.TrimSpace(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordFiring(ctx context.Context, rec FiringRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO firings(report, chat, started_at, finished_at, status, attempts, err, artifact)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.Report, rec.Chat,
		rec.StartedAt.Format(time.RFC3339Nano), rec.FinishedAt.Format(time.RFC3339Nano),
		rec.Status, rec.Attempts, nullStr(rec.Error), nullStr(rec.Artifact),
	)
	return err
}

func (s *sqliteStore) RecentFirings(ctx context.Context, limit int) ([]FiringRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report, chat, started_at, finished_at, status, attempts, COALESCE(err,''), COALESCE(artifact,'')
		 FROM firings ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FiringRecord
	for rows.Next() {
		var rec FiringRecord
		var started, finished string
		if err := rows.Scan(&rec.Report, &rec.Chat, &started, &finished, &rec.Status, &rec.Attempts, &rec.Error, &rec.Artifact); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
