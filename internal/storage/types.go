package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	kit "tglogsink/internal/transport"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store caches chat ids per bot.
type Store interface {
	GetChat(ctx context.Context, key string) (kit.ChatID, bool, error)
	PutChat(ctx context.Context, key string, chat kit.ChatID) error
	Close() error
}

// TokenKey derives a cache key from a bot token. The bot id prefix stays
// readable; the secret part only survives as a digest.
func TokenKey(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	id, _, ok := strings.Cut(token, ":")
	if !ok {
		id = "bot"
	}
	return id + ":" + hex.EncodeToString(sum[:8])
}
