package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tglogsink/pkg/logx"
)

// SummarizeConfigChange returns the changed sections, secret-free log fields
// describing them, and the subset of sections that only take effect after a
// restart (telegram, storage).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	restart := make([]string, 0, 2)
	attrs := make([]logx.Field, 0, 16)

	// Never log the token, only whether it moved.
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	ot.Token, nt.Token = "", ""
	if tokenChanged || ot != nt {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.Bool("telegram.chat_id_set", nt.ChatID != ""),
			logx.String("telegram.client", nt.Client),
			logx.Bool("telegram.proxy_set", strings.TrimSpace(nt.Proxy) != ""),
		)
	}

	if oldCfg.Sink != newCfg.Sink {
		changed = append(changed, "sink")
		attrs = append(attrs,
			logx.String("sink.min_level", newCfg.Sink.MinLevelOrDefault()),
			logx.Any("sink.rate_per_sec", newCfg.Sink.RatePerSec),
		)
		if oldCfg.Sink.QueueCapacity != newCfg.Sink.QueueCapacity || oldCfg.Sink.Overflow != newCfg.Sink.Overflow {
			restart = append(restart, "sink.queue")
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if oldCfg.Heartbeat != newCfg.Heartbeat {
		changed = append(changed, "heartbeat")
		attrs = append(attrs,
			logx.Bool("heartbeat.enabled", newCfg.Heartbeat.Enabled),
			logx.String("heartbeat.schedule", newCfg.Heartbeat.Schedule),
		)
	}

	oo, no := oldCfg.Observability, newCfg.Observability
	obsTokenChanged := (oo.Token != "") != (no.Token != "")
	oo.Token, no.Token = "", ""
	if obsTokenChanged || oo != no {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", no.AddrOrDefault()),
			logx.Bool("observability.token_set", newCfg.Observability.Token != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
