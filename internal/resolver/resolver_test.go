package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	logx "tglogsink/pkg/logx"
)

type hits struct {
	mu    sync.Mutex
	paths []string
}

func (h *hits) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.paths...)
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *hits) {
	t.Helper()
	h := &hits{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		h.mu.Lock()
		h.paths = append(h.paths, r.URL.Path)
		h.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, h
}

func TestLookup(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{
			name:   "last update wins",
			status: 200,
			body:   `{"ok":true,"result":[{"message":{"chat":{"id":1}}},{"message":{"chat":{"id":-1001234567890123}}}]}`,
			want:   "-1001234567890123",
		},
		{name: "empty result", status: 200, body: `{"ok":true,"result":[]}`, wantErr: ErrNoUpdates},
		{name: "not ok", status: 200, body: `{"ok":false,"error_code":401,"description":"Unauthorized"}`, wantErr: ErrNotOK},
		{name: "no message", status: 200, body: `{"ok":true,"result":[{"channel_post":{"chat":{"id":5}}}]}`, wantErr: ErrNoChatPath},
		{name: "http error", status: 502, body: `bad gateway`},
		{name: "malformed body", status: 200, body: `{"ok":tru`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, paths := newServer(t, tc.status, tc.body)
			r := New(Config{APIRoot: srv.URL, Token: "123:abc"}, srv.Client(), logx.Nop())

			id, err := r.Lookup(context.Background())
			if tc.want != "" {
				if err != nil || id.String() != tc.want {
					t.Fatalf("id=%q err=%v", id, err)
				}
			} else {
				if err == nil {
					t.Fatalf("expected error, got id %q", id)
				}
				if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
			}
			if p := paths.list(); len(p) != 1 || p[0] != "/bot123:abc/getUpdates" {
				t.Fatalf("paths=%v", p)
			}

			rid, ok := r.Resolve(context.Background())
			if ok != (tc.want != "") || rid.String() != tc.want {
				t.Fatalf("Resolve=%q,%v", rid, ok)
			}
		})
	}
}

func TestRequestKeepsResponse(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	r := New(Config{APIRoot: srv.URL, Token: "1:x"}, srv.Client(), logx.Nop())

	resp, err := r.Request(context.Background(), "sendMessage", nil)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err=%v", err)
	}
	if resp.StatusCode != 400 || resp.OK || resp.ErrorCode != 400 || len(resp.Body) == 0 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestRequestErrorHidesToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	r := New(Config{APIRoot: srv.URL, Token: "999:topsecret", Timeout: 20 * time.Millisecond}, srv.Client(), logx.Nop())
	_, err := r.Request(context.Background(), "getUpdates", nil)
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if strings.Contains(err.Error(), "topsecret") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestLookupLogsNoErrorLevel(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t, 200, `{"ok":true,"result":[]}`)
	var buf strings.Builder
	log := logx.NewZerolog(zerolog.New(&buf))
	r := New(Config{APIRoot: srv.URL, Token: "1:x"}, srv.Client(), log)

	if _, ok := r.Resolve(context.Background()); ok {
		t.Fatalf("expected absent")
	}
	if strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("resolver must leave the error diagnostic to its caller:\n%s", buf.String())
	}
}
