package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_cache (
	key        TEXT PRIMARY KEY,
	chat       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) GetChat(ctx context.Context, key string) (kit.ChatID, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var chat string
	err := s.db.QueryRowContext(ctx, `SELECT chat FROM chat_cache WHERE key = ?`, key).Scan(&chat)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return kit.ChatID(chat), chat != "", nil
}

func (s *sqliteStore) PutChat(ctx context.Context, key string, chat kit.ChatID) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_cache(key, chat, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET chat=excluded.chat, updated_at=excluded.updated_at`,
		key, chat.String(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
