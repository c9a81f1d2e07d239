package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

// BotAPI is a kit.Client backed by go-telegram-bot-api/v5.
type BotAPI struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu  sync.RWMutex
	bot *tgbotapi.BotAPI
}

func NewBotAPI(cfg Config, httpClient *http.Client, log logx.Logger) *BotAPI {
	if log.IsZero() {
		log = logx.Nop()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &BotAPI{cfg: cfg, log: log, http: httpClient}
}

func (a *BotAPI) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bot != nil
}

func (a *BotAPI) Connect(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("telegram token is empty")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return nil
	}

	// tgbotapi formats the endpoint as fmt.Sprintf(endpoint, token, method).
	endpoint := strings.TrimRight(strings.TrimSpace(a.cfg.APIRoot), "/") + "/bot%s/%s"
	b, err := tgbotapi.NewBotAPIWithClient(token, endpoint, a.http)
	if err != nil {
		return describeBotAPI(err)
	}
	a.bot = b
	a.log.Info("bot session connected", logx.String("username", b.Self.UserName))
	return nil
}

func (a *BotAPI) current() (*tgbotapi.BotAPI, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bot == nil {
		return nil, ErrNotConnected
	}
	return a.bot, nil
}

func baseChat(to kit.ChatID, opt *kit.SendOptions) tgbotapi.BaseChat {
	bc := tgbotapi.BaseChat{DisableNotification: opt.DisableNotification}
	if id, ok := to.Int64(); ok {
		bc.ChatID = id
	} else {
		bc.ChannelUsername = strings.TrimSpace(to.String())
	}
	return bc
}

func (a *BotAPI) SendText(ctx context.Context, to kit.ChatID, text string, opt *kit.SendOptions) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	msg := tgbotapi.MessageConfig{
		BaseChat:              baseChat(to, opt),
		Text:                  text,
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if _, err := b.Send(msg); err != nil {
		return describeBotAPI(err)
	}
	return nil
}

func (a *BotAPI) SendFile(ctx context.Context, to kit.ChatID, doc kit.Document, opt *kit.SendOptions) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	cfg := tgbotapi.DocumentConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: baseChat(to, opt),
			File:     tgbotapi.FileBytes{Name: doc.Name, Bytes: doc.Content},
		},
		Caption:   doc.Caption,
		ParseMode: opt.ParseMode,
	}
	if _, err := b.Send(cfg); err != nil {
		return describeBotAPI(err)
	}
	return nil
}

func describeBotAPI(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Description: apiErr.Message, err: err}
	}
	return err
}
