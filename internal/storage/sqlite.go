package storage

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "quakebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	mirror

	db  *sqlx.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("create dir", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, unavailable("enable WAL", err)
	}
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.Exec(migrationsSQL); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (IDSet, error) {
	var rows []string
	if err := s.db.SelectContext(ctx, &rows, `SELECT id FROM seen_events`); err != nil {
		return nil, unavailable("load seen_events", err)
	}
	ids := make(IDSet, len(rows))
	for _, id := range rows {
		ids.Add(id)
	}
	return s.replace(ids), nil
}

func (s *sqliteStore) Record(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrInvalidID
	}
	if !s.add(id) {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_events(id, recorded_at) VALUES(?, ?)`,
		id, time.Now().UnixMilli(),
	)
	if err != nil {
		return unavailable("insert "+id, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
