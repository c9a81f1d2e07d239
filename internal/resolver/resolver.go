// Package resolver discovers the destination chat id from the bot's most recent update.
//
// It is a one-shot bootstrap: a single getUpdates POST, no polling, no retry.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

var (
	ErrNotOK      = errors.New("telegram response is not ok")
	ErrNoUpdates  = errors.New("no updates available")
	ErrNoChatPath = errors.New("latest update has no message.chat.id")
)

const maxBodyBytes = 1 << 20

type Config struct {
	APIRoot string
	Token   string
	Timeout time.Duration
}

type Resolver struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

// Response is the outcome of one Bot API call. Each call returns its own value;
// nothing is retained on the Resolver.
type Response struct {
	StatusCode  int
	Body        []byte
	OK          bool
	ErrorCode   int
	Description string
	Result      json.RawMessage
}

func New(cfg Config, httpClient *http.Client, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Resolver{cfg: cfg, http: httpClient, log: log}
}

// Request POSTs form params to {api-root}/bot{token}/{method}.
//
// A non-nil error means transport failure, non-2xx status, or an undecodable
// body; the returned Response still carries whatever was read.
func (r *Resolver) Request(ctx context.Context, method string, params url.Values) (Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	endpoint := kit.MethodURL(r.cfg.APIRoot, r.cfg.Token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		// url.Error embeds the full URL, and with it the token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = fmt.Errorf("%s %s: %w", uerr.Op, method, uerr.Err)
		}
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	out := Response{StatusCode: resp.StatusCode, Body: body}
	if err != nil {
		return out, fmt.Errorf("read %s response: %w", method, err)
	}

	var env struct {
		OK          bool            `json:"ok"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	decErr := json.Unmarshal(bytes.TrimSpace(body), &env)
	if decErr == nil {
		out.OK = env.OK
		out.ErrorCode = env.ErrorCode
		out.Description = env.Description
		out.Result = env.Result
	}

	if resp.StatusCode/100 != 2 {
		if out.Description != "" {
			return out, fmt.Errorf("telegram %s failed: %s (code=%d http=%d)", method, out.Description, out.ErrorCode, resp.StatusCode)
		}
		return out, fmt.Errorf("telegram %s failed: http=%d", method, resp.StatusCode)
	}
	if decErr != nil {
		return out, fmt.Errorf("decode %s response: %w", method, decErr)
	}
	return out, nil
}

// Lookup returns the chat id of the most recent update, or an error explaining
// why none could be obtained.
func (r *Resolver) Lookup(ctx context.Context) (kit.ChatID, error) {
	resp, err := r.Request(ctx, "getUpdates", url.Values{})
	if err != nil {
		r.log.Warn("getUpdates request failed", logx.Err(err), logx.Int("http", resp.StatusCode))
		if len(resp.Body) > 0 {
			r.log.Debug("getUpdates response body", logx.String("body", truncate(string(resp.Body), 2000)))
		}
		return "", err
	}
	if !resp.OK {
		r.log.Warn("telegram response is not ok", logx.String("description", resp.Description), logx.Int("code", resp.ErrorCode))
		return "", ErrNotOK
	}
	return chatFromUpdates(resp.Result)
}

// Resolve is Lookup without the error: absent is ("", false).
func (r *Resolver) Resolve(ctx context.Context) (kit.ChatID, bool) {
	id, err := r.Lookup(ctx)
	if err != nil {
		return "", false
	}
	return id, true
}

func chatFromUpdates(raw json.RawMessage) (kit.ChatID, error) {
	var updates []struct {
		Message *struct {
			Chat *struct {
				ID json.Number `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&updates); err != nil {
		return "", fmt.Errorf("decode updates: %w", err)
	}
	if len(updates) == 0 {
		return "", ErrNoUpdates
	}
	last := updates[len(updates)-1]
	if last.Message == nil || last.Message.Chat == nil || last.Message.Chat.ID == "" {
		return "", ErrNoChatPath
	}
	return kit.ChatID(last.Message.Chat.ID.String()), nil
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	return s[:maxN-3] + "..."
}
