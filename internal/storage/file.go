package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

// fileStore keeps every entry in memory and rewrites one JSON snapshot
// (tmp file + rename) on each change. Chat ids change rarely, so there is no
// journal.
type fileStore struct {
	log  logx.Logger
	path string

	mu      sync.Mutex
	entries map[string]chatEntry
	closed  bool
}

type chatEntry struct {
	Chat      string    `json:"chat"`
	UpdatedAt time.Time `json:"updated_at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	entries := map[string]chatEntry{}
	if err := loadSnapshot(path, entries); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A corrupt snapshot only costs one getUpdates call.
		log.Warn("chat cache snapshot unreadable; starting empty", logx.String("path", path), logx.Err(err))
	}
	return &fileStore{log: log, path: path, entries: entries}, nil
}

func (s *fileStore) GetChat(ctx context.Context, key string) (kit.ChatID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrDisabled
	}
	e, ok := s.entries[key]
	if !ok || e.Chat == "" {
		return "", false, nil
	}
	return kit.ChatID(e.Chat), true, nil
}

func (s *fileStore) PutChat(ctx context.Context, key string, chat kit.ChatID) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if e, ok := s.entries[key]; ok && e.Chat == chat.String() {
		return nil
	}
	s.entries[key] = chatEntry{Chat: chat.String(), UpdatedAt: time.Now().UTC()}
	return s.writeLocked()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) writeLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func loadSnapshot(path string, out map[string]chatEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]chatEntry
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
