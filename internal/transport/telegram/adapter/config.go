package adapter

import (
	"fmt"
	"net/http"
	"strings"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

// Driver names accepted by Open.
const (
	DriverTelebot = "telebot"
	DriverBotAPI  = "botapi"
)

type Config struct {
	// Driver selects the bot library. Empty means telebot.
	Driver  string
	APIRoot string
}

// Open returns an unconnected client for the configured driver.
func Open(cfg Config, httpClient *http.Client, log logx.Logger) (kit.Client, error) {
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = kit.DefaultAPIRoot
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", DriverTelebot:
		return NewTelebot(cfg, httpClient, log), nil
	case DriverBotAPI, "bot-api", "tgbotapi":
		return NewBotAPI(cfg, httpClient, log), nil
	default:
		return nil, fmt.Errorf("unknown telegram client driver: %s", cfg.Driver)
	}
}
