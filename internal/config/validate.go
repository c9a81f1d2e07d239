package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIRoot           = "https://api.telegram.org"
	DefaultTimeout           = 2 * time.Second
	DefaultSendTimeout       = 10 * time.Second
	DefaultReadyTimeout      = 5 * time.Second
	DefaultDrainTimeout      = 3 * time.Second
	DefaultObservabilityAddr = "127.0.0.1:9464"
	DefaultSinkLevel         = "warn"
)

// Validate checks fields that cannot be fixed up by defaults.
// It does not touch the network.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Telegram.Client)) {
	case "", "telebot", "botapi", "bot-api", "tgbotapi":
	default:
		errs = append(errs, fmt.Errorf("telegram.client: unknown client %q", c.Telegram.Client))
	}
	if p := strings.TrimSpace(c.Telegram.Proxy); p != "" {
		if u, err := url.Parse(p); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("telegram.proxy: invalid url %q", p))
		}
	}
	if r := strings.TrimSpace(c.Telegram.APIRoot); r != "" {
		if u, err := url.Parse(r); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("telegram.api_root: invalid url %q", r))
		}
	}

	for path, raw := range map[string]string{
		"telegram.timeout":      c.Telegram.Timeout,
		"telegram.send_timeout": c.Telegram.SendTimeout,
		"sink.ready_timeout":    c.Sink.ReadyTimeout,
		"sink.drain_timeout":    c.Sink.DrainTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Sink.QueueCapacity < 0 {
		errs = append(errs, errors.New("sink.queue_capacity must be >= 0"))
	}
	if c.Sink.RatePerSec < 0 {
		errs = append(errs, errors.New("sink.rate_per_sec must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Sink.Overflow)) {
	case "", "drop_oldest", "oldest", "drop_newest", "newest":
	default:
		errs = append(errs, fmt.Errorf("sink.overflow: unknown policy %q", c.Sink.Overflow))
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, errors.New("storage.path is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Heartbeat.Enabled && strings.TrimSpace(c.Heartbeat.Schedule) == "" {
		errs = append(errs, errors.New("heartbeat.schedule is required when enabled"))
	}
	if tz := strings.TrimSpace(c.Heartbeat.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat.timezone: %w", err))
		}
	}

	return errors.Join(errs...)
}

// APIRootOrDefault returns the configured Bot API root without a trailing slash.
func (t TelegramConfig) APIRootOrDefault() string {
	r := strings.TrimRight(strings.TrimSpace(t.APIRoot), "/")
	if r == "" {
		return DefaultAPIRoot
	}
	return r
}

func (o ObservabilityConfig) AddrOrDefault() string {
	if a := strings.TrimSpace(o.Addr); a != "" {
		return a
	}
	return DefaultObservabilityAddr
}

func (s SinkConfig) MinLevelOrDefault() string {
	if l := strings.TrimSpace(s.MinLevel); l != "" {
		return l
	}
	return DefaultSinkLevel
}
