package adapter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

// Telebot is a kit.Client backed by gopkg.in/telebot.v4.
//
// The bot is only used for outbound calls; no poller is ever started.
type Telebot struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu  sync.RWMutex
	bot *tele.Bot
}

func NewTelebot(cfg Config, httpClient *http.Client, log logx.Logger) *Telebot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telebot{cfg: cfg, log: log, http: httpClient}
}

func (a *Telebot) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bot != nil
}

// Connect performs getMe with token. Calling it on a connected client is a no-op.
func (a *Telebot) Connect(ctx context.Context, token string) error {
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

	b, err := tele.NewBot(tele.Settings{
		URL:    strings.TrimRight(strings.TrimSpace(a.cfg.APIRoot), "/"),
		Token:  token,
		Client: a.http,
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return describe(err)
	}
	a.bot = b
	a.log.Info("bot session connected", logx.String("username", b.Me.Username))
	return nil
}

func (a *Telebot) current() (*tele.Bot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bot == nil {
		return nil, ErrNotConnected
	}
	return a.bot, nil
}

func (a *Telebot) sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.DisableNotification,
	}
}

func (a *Telebot) SendText(ctx context.Context, to kit.ChatID, text string, opt *kit.SendOptions) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if _, err := b.Send(to, text, a.sendOptions(opt)); err != nil {
		return describe(err)
	}
	return nil
}

func (a *Telebot) SendFile(ctx context.Context, to kit.ChatID, doc kit.Document, opt *kit.SendOptions) error {
	b, err := a.current()
	if err != nil {
		return err
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	d := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Content)),
		FileName: doc.Name,
		Caption:  doc.Caption,
		MIME:     "text/plain",
	}
	if _, err := b.Send(to, d, a.sendOptions(opt)); err != nil {
		return describe(err)
	}
	return nil
}

// describe unwraps telebot API errors into a compact "code: description" form.
func describe(err error) error {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Description: apiErr.Description, err: err}
	}
	return err
}
