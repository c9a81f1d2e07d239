package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Sink          SinkConfig          `json:"sink"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Heartbeat     HeartbeatConfig     `json:"heartbeat"`
	Observability ObservabilityConfig `json:"observability"`
}

// TelegramConfig holds the bot credential and delivery options.
//
// Durations are Go duration strings (e.g. "2s", "10s").
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID may be a number or a string ("@channel"). Empty means discover
	// it via getUpdates.
	ChatID  ChatRef `json:"chat_id,omitempty"`
	APIRoot string  `json:"api_root,omitempty"`

	// Timeout bounds the getUpdates bootstrap request. Default "2s".
	Timeout string `json:"timeout,omitempty"`
	// SendTimeout bounds a single delivery. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
	Proxy       string `json:"proxy,omitempty"`

	DisableNotification   bool `json:"disable_notification,omitempty"`
	DisableWebPagePreview bool `json:"disable_web_page_preview,omitempty"`

	// Client selects the bot library: "telebot" (default) or "botapi"
	// ("bot-api" and "tgbotapi" are accepted too).
	Client string `json:"client,omitempty"`
}

type SinkConfig struct {
	MinLevel      string  `json:"min_level,omitempty"` // default "warn"
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	QueueCapacity int     `json:"queue_capacity,omitempty"` // 0 = unbounded
	Overflow      string  `json:"overflow,omitempty"`       // drop_oldest | drop_newest
	ReadyTimeout  string  `json:"ready_timeout,omitempty"`  // default "5s"
	DrainTimeout  string  `json:"drain_timeout,omitempty"`  // default "3s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig controls the chat-id cache.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tglogsink.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HeartbeatConfig emits a periodic liveness record through the log path.
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec or "@every 1h"
	Timezone string `json:"timezone,omitempty"`
	Level    string `json:"level,omitempty"` // default "warn" so it passes the sink filter
}

// ObservabilityConfig controls the optional /healthz, /metrics and pprof server.
//
// Prefer a loopback addr. A non-loopback bind needs a token or allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// ChatRef accepts either a JSON number or a JSON string.
type ChatRef string

func (c *ChatRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChatRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("chat_id: %w", err)
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return fmt.Errorf("chat_id: %s is not an integer", n)
	}
	*c = ChatRef(n.String())
	return nil
}
