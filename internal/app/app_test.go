package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tglogsink/internal/sink"
	logx "tglogsink/pkg/logx"
)

type botServer struct {
	mu      sync.Mutex
	methods []string
	texts   []string
	denyMe  bool
}

func (b *botServer) calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (b *botServer) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	text := ""
	if method == "sendMessage" {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			text, _ = body["text"].(string)
		} else {
			_ = r.ParseForm()
			text = r.PostForm.Get("text")
		}
	}

	b.mu.Lock()
	b.methods = append(b.methods, method)
	if text != "" {
		b.texts = append(b.texts, text)
	}
	denyMe := b.denyMe
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		if denyMe {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":123,"is_bot":true,"first_name":"logs","username":"logs_bot"}}`))
	case "getUpdates":
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":-1002,"type":"group"}}}]}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-1001,"type":"supergroup"}}}`))
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func stopCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartForwardsWarnings(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs)
	t.Cleanup(srv.Close)

	path := writeConfig(t, fmt.Sprintf(`{
		"telegram": {"token": "123:abc", "chat_id": -1001, "api_root": %q},
		"sink": {"min_level": "warn"},
		"logging": {"level": "info"}
	}`, srv.URL))

	a, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.Sink().Running() {
		t.Fatalf("sink not running after start")
	}

	log := a.Logger()
	log.Info("routine housekeeping")
	log.Warn("disk almost full", logx.String("mount", "/var"))

	if err := a.Stop(stopCtx(t), StopDone); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var found bool
	for _, text := range bs.sent() {
		if strings.Contains(text, "routine housekeeping") {
			t.Fatalf("info record forwarded: %q", text)
		}
		if strings.Contains(text, "disk almost full") && strings.Contains(text, "<code>mount</code>=/var") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warning not delivered; sent=%q", bs.sent())
	}
	if bs.calls("getUpdates") != 0 {
		t.Fatalf("configured chat id should skip getUpdates")
	}
}

func TestResolveChatCaches(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs)
	t.Cleanup(srv.Close)

	cache := filepath.Join(t.TempDir(), "chats.json")
	path := writeConfig(t, fmt.Sprintf(`{
		"telegram": {"token": "123:abc", "api_root": %q},
		"storage": {"driver": "file", "path": %q}
	}`, srv.URL, cache))

	for i := 0; i < 2; i++ {
		a, err := New(path)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		id, ok := a.ResolveChat(context.Background())
		if !ok || id.String() != "-1002" {
			t.Fatalf("run %d: id=%q ok=%v", i, id, ok)
		}
		if err := a.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if n := bs.calls("getUpdates"); n != 1 {
		t.Fatalf("getUpdates calls=%d, want 1 (second run from cache)", n)
	}
}

func TestStartFailsWhenClientCannotConnect(t *testing.T) {
	bs := &botServer{denyMe: true}
	srv := httptest.NewServer(bs)
	t.Cleanup(srv.Close)

	path := writeConfig(t, fmt.Sprintf(`{
		"telegram": {"token": "123:abc", "chat_id": "-1001", "api_root": %q}
	}`, srv.URL))

	a, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = a.Start(context.Background())
	if !errors.Is(err, sink.ErrClientNotConnected) {
		t.Fatalf("start err=%v, want ErrClientNotConnected", err)
	}
	_ = a.Stop(stopCtx(t), StopFatalError)

	if bs.calls("sendMessage") != 0 {
		t.Fatalf("nothing should be sent through a disconnected client")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	a := &App{}
	if _, err := a.health(); err == nil {
		t.Fatalf("expected error before start")
	}

	a.sink = sink.New(sink.Config{}, nil, logx.Nop())
	if _, err := a.health(); err != nil {
		t.Fatalf("inert sink should be healthy: %v", err)
	}
}

func TestHealthReportsTasks(t *testing.T) {
	bs := &botServer{}
	srv := httptest.NewServer(bs)
	t.Cleanup(srv.Close)

	path := writeConfig(t, fmt.Sprintf(`{
		"telegram": {"token": "123:abc", "chat_id": -1001, "api_root": %q}
	}`, srv.URL))

	a, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopDone)
	})

	detail, err := a.health()
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body struct {
		Sink struct {
			State string `json:"state"`
		} `json:"sink"`
		Tasks []struct {
			Name    string `json:"name"`
			Active  int64  `json:"active"`
			Started uint64 `json:"started"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	active := map[string]int64{}
	for _, task := range body.Tasks {
		if task.Started == 0 {
			t.Fatalf("task %q reported but never started", task.Name)
		}
		active[task.Name] = task.Active
	}
	for _, name := range []string{"config.reload", "config.watch", "delivery.loop"} {
		if active[name] != 1 {
			t.Fatalf("task %q active=%d, want 1; tasks=%+v", name, active[name], body.Tasks)
		}
	}
	if body.Sink.State == "" {
		t.Fatalf("sink stats missing from health detail: %s", raw)
	}
}
