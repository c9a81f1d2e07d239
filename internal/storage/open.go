package storage

import (
	"fmt"
	"strings"

	logx "tglogsink/pkg/logx"
)

// Open initializes the configured store. A disabled store is (nil, nil);
// callers treat a nil Store as "no cache".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		st  Store
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	log.Debug("chat cache opened", logx.String("driver", cfg.Driver), logx.String("path", cfg.Path))
	return st, nil
}
