package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

const token = "123:abc"

type botServer struct {
	mu      sync.Mutex
	methods []string
	reject  bool
}

func (b *botServer) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.methods...)
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	b.mu.Lock()
	b.methods = append(b.methods, method)
	reject := b.reject
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case method == "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":123,"is_bot":true,"first_name":"logs","username":"logs_bot"}}`))
	case reject:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-1001,"type":"supergroup"}}}`))
	}
}

func TestClients(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{DriverTelebot, DriverBotAPI} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			bs := &botServer{}
			srv := httptest.NewServer(bs)
			t.Cleanup(srv.Close)

			c, err := Open(Config{Driver: driver, APIRoot: srv.URL}, srv.Client(), logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			ctx := context.Background()

			if err := c.SendText(ctx, "-1001", "x", nil); !errors.Is(err, ErrNotConnected) {
				t.Fatalf("send before connect: %v", err)
			}
			if c.Connected() {
				t.Fatalf("connected before Connect")
			}
			if err := c.Connect(ctx, token); err != nil {
				t.Fatalf("connect: %v", err)
			}
			if !c.Connected() {
				t.Fatalf("not connected after Connect")
			}

			opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
			if err := c.SendText(ctx, "-1001", "<b>hi</b>", opt); err != nil {
				t.Fatalf("send text: %v", err)
			}
			doc := kit.Document{Name: "log.txt", Content: []byte(strings.Repeat("x", 5000)), Caption: "xxx"}
			if err := c.SendFile(ctx, "-1001", doc, &kit.SendOptions{}); err != nil {
				t.Fatalf("send file: %v", err)
			}

			got := bs.calls()
			want := []string{"getMe", "sendMessage", "sendDocument"}
			if strings.Join(got, ",") != strings.Join(want, ",") {
				t.Fatalf("calls=%v want %v", got, want)
			}

			bs.mu.Lock()
			bs.reject = true
			bs.mu.Unlock()
			err = c.SendText(ctx, "-1001", "x", nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Code != 400 || !strings.Contains(apiErr.Description, "chat not found") {
				t.Fatalf("expected APIError 400, got %v", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "mtproto"}, nil, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConnectEmptyToken(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{DriverTelebot, DriverBotAPI} {
		c, err := Open(Config{Driver: driver}, nil, logx.Nop())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := c.Connect(context.Background(), " "); err == nil {
			t.Fatalf("%s: expected error for empty token", driver)
		}
	}
}
