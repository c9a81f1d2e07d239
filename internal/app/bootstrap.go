package app

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tglogsink/internal/config"
	"tglogsink/internal/heartbeat"
	"tglogsink/internal/observability/server"
	"tglogsink/internal/sink"
	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

// Config sections map onto component configs here so components never import
// internal/config.

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled:    lc.File.Enabled,
			Path:       lc.File.Path,
			MaxSizeMB:  lc.File.MaxSizeMB,
			MaxBackups: lc.File.MaxBackups,
			Compress:   lc.File.Compress,
		},
	}
}

func mapSinkConfig(cfg *config.Config, chat kit.ChatID) (sink.Config, error) {
	overflow, err := sink.ParseOverflowPolicy(cfg.Sink.Overflow)
	if err != nil {
		return sink.Config{}, err
	}
	return sink.Config{
		Token:               cfg.Telegram.Token,
		ChatID:              chat,
		ParseMode:           "HTML",
		DisableNotification: cfg.Telegram.DisableNotification,
		DisablePreview:      cfg.Telegram.DisableWebPagePreview,
		SendTimeout:         config.MustDuration(cfg.Telegram.SendTimeout, config.DefaultSendTimeout),
		ReadyTimeout:        config.MustDuration(cfg.Sink.ReadyTimeout, config.DefaultReadyTimeout),
		QueueCapacity:       cfg.Sink.QueueCapacity,
		Overflow:            overflow,
	}, nil
}

func mapWriterConfig(cfg *config.Config) (zerolog.Level, float64) {
	return logx.ParseLevel(cfg.Sink.MinLevelOrDefault(), zerolog.WarnLevel), cfg.Sink.RatePerSec
}

func mapHeartbeatConfig(cfg *config.Config) heartbeat.Config {
	hc := cfg.Heartbeat
	return heartbeat.Config{
		Enabled:  hc.Enabled,
		Schedule: strings.TrimSpace(hc.Schedule),
		Timezone: strings.TrimSpace(hc.Timezone),
		Level:    logx.ParseLevel(hc.Level, zerolog.WarnLevel),
	}
}

func mapObservabilityConfig(cfg *config.Config) server.Config {
	oc := cfg.Observability
	return server.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.AddrOrDefault(),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
}

func drainTimeout(cfg *config.Config) time.Duration {
	return config.MustDuration(cfg.Sink.DrainTimeout, config.DefaultDrainTimeout)
}
