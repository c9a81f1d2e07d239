package transport

import (
	"context"
	"strconv"
	"strings"
)

// ChatID is an opaque chat destination: a numeric chat id ("-100123...")
// or a public channel username ("@mychannel").
//
// It satisfies telebot's Recipient interface as-is.
type ChatID string

func (c ChatID) Recipient() string { return string(c) }

func (c ChatID) String() string { return string(c) }

func (c ChatID) IsZero() bool { return strings.TrimSpace(string(c)) == "" }

// Int64 returns the numeric form. ok is false for channel usernames.
func (c ChatID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(c)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type SendOptions struct {
	ParseMode           string
	DisablePreview      bool
	DisableNotification bool
}

// Document is a file attachment sent with an optional caption.
type Document struct {
	Name    string
	Content []byte
	Caption string
}

// Client is the delivery capability the sink needs from a bot session.
//
// Connect establishes the session using the bot credential (a getMe round-trip
// for Telegram). Connected only reports state and never performs I/O.
type Client interface {
	Connected() bool
	Connect(ctx context.Context, token string) error

	SendText(ctx context.Context, to ChatID, text string, opt *SendOptions) error
	SendFile(ctx context.Context, to ChatID, doc Document, opt *SendOptions) error
}
