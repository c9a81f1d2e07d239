package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

type sent struct {
	kind    string
	text    string
	content string
	caption string
	opt     kit.SendOptions
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	connectOK bool
	calls     []sent
	failOn    map[string]error
	panicOn   map[string]bool
	block     chan struct{}
	sentCh    chan struct{}

	// connecting is closed when Connect is entered; Connect then waits on release.
	connecting chan struct{}
	release    chan struct{}
}

func newFakeClient(connected bool) *fakeClient {
	return &fakeClient{
		connected: connected,
		connectOK: true,
		failOn:    map[string]error{},
		panicOn:   map[string]bool{},
		sentCh:    make(chan struct{}, 1024),
	}
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect(ctx context.Context, token string) error {
	if c.connecting != nil {
		close(c.connecting)
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectOK {
		return errors.New("unauthorized")
	}
	c.connected = true
	return nil
}

func (c *fakeClient) record(s sent, key string) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.calls = append(c.calls, s)
	err := c.failOn[key]
	pan := c.panicOn[key]
	c.mu.Unlock()
	select {
	case c.sentCh <- struct{}{}:
	default:
	}
	if pan {
		panic("client exploded")
	}
	return err
}

func (c *fakeClient) SendText(ctx context.Context, to kit.ChatID, text string, opt *kit.SendOptions) error {
	return c.record(sent{kind: "text", text: text, opt: *opt}, text)
}

func (c *fakeClient) SendFile(ctx context.Context, to kit.ChatID, doc kit.Document, opt *kit.SendOptions) error {
	return c.record(sent{kind: "file", content: string(doc.Content), caption: doc.Caption, opt: *opt}, string(doc.Content))
}

func (c *fakeClient) snapshot() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.calls...)
}

func (c *fakeClient) waitSends(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.sentCh:
		case <-deadline:
			t.Fatalf("timed out waiting for %d sends (got %d)", n, i)
		}
	}
}

func newTestSink(t *testing.T, c *fakeClient, mutate func(*Config)) *Sink {
	t.Helper()
	cfg := Config{Token: "123:abc", ChatID: "-1001", ParseMode: "HTML", ReadyTimeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg, c, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func TestDeliveryOrderAcrossSizePolicy(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	a := strings.Repeat("a", 10)
	m := strings.Repeat("m", 5000)
	b := strings.Repeat("b", 10)
	s.Accept(a)
	s.Accept(m)
	s.Accept(b)
	c.waitSends(t, 3)

	got := c.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(got))
	}
	if got[0].kind != "text" || got[0].text != a {
		t.Fatalf("first send: %+v", got[0])
	}
	if got[1].kind != "file" || got[1].content != m || got[1].caption != m[:1000] {
		t.Fatalf("second send kind=%s content_len=%d caption_len=%d", got[1].kind, len(got[1].content), len(got[1].caption))
	}
	if got[1].opt.ParseMode != "" {
		t.Fatalf("file caption must not carry a parse mode, got %q", got[1].opt.ParseMode)
	}
	if got[2].kind != "text" || got[2].text != b {
		t.Fatalf("third send: %+v", got[2])
	}
}

func TestSizeBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  string
		kind string
	}{
		{name: "below", msg: strings.Repeat("x", MaxMessageLen-1), kind: "text"},
		{name: "at", msg: strings.Repeat("x", MaxMessageLen), kind: "file"},
		// length counts characters, not bytes.
		{name: "multibyte below", msg: strings.Repeat("é", MaxMessageLen-1), kind: "text"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newFakeClient(true)
			s := newTestSink(t, c, nil)
			if err := s.Init(context.Background()); err != nil {
				t.Fatalf("init: %v", err)
			}
			s.Accept(tc.msg)
			c.waitSends(t, 1)
			got := c.snapshot()[0]
			if got.kind != tc.kind {
				t.Fatalf("kind=%s want %s", got.kind, tc.kind)
			}
			if tc.kind == "text" && got.text != tc.msg {
				t.Fatalf("text was altered")
			}
		})
	}
}

func TestCaptionIsRunePrefix(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	msg := strings.Repeat("ж", 5000)
	s.Accept(msg)
	c.waitSends(t, 1)

	got := c.snapshot()[0]
	if got.caption != strings.Repeat("ж", CaptionLen) {
		t.Fatalf("caption has %d bytes", len(got.caption))
	}
	if got.content != msg {
		t.Fatalf("file content differs from message")
	}
}

func TestDisconnectedClientIsFatal(t *testing.T) {
	t.Parallel()

	c := newFakeClient(false)
	c.connectOK = false
	s := newTestSink(t, c, nil)

	s.Accept("queued before init")
	err := s.Init(context.Background())
	if !errors.Is(err, ErrClientNotConnected) {
		t.Fatalf("expected ErrClientNotConnected, got %v", err)
	}
	s.Accept("after init")

	time.Sleep(50 * time.Millisecond)
	if n := len(c.snapshot()); n != 0 {
		t.Fatalf("expected zero sends, got %d", n)
	}
	if s.Running() {
		t.Fatalf("loop must not be running")
	}
	if st := s.Stats(); st.State != "failed" {
		t.Fatalf("state=%s", st.State)
	}
}

func TestInitConnectsClient(t *testing.T) {
	t.Parallel()

	c := newFakeClient(false)
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !c.Connected() || !s.Running() {
		t.Fatalf("expected connected client and running loop")
	}
}

func TestSendFailureDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	c.failOn["bad"] = errors.New("Bad Request: can't parse entities")
	c.panicOn["worse"] = true
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, m := range []string{"bad", "worse", "good"} {
		s.Accept(m)
	}
	c.waitSends(t, 3)

	got := c.snapshot()
	if len(got) != 3 || got[2].text != "good" {
		t.Fatalf("unexpected sends: %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Delivered+s.Stats().Failed < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	st := s.Stats()
	if st.Failed != 2 || st.Delivered != 1 {
		t.Fatalf("stats: %+v", st)
	}
	if !s.Running() {
		t.Fatalf("loop stopped after failures")
	}
}

func TestAcceptDoesNotWaitForNetwork(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	c.block = make(chan struct{})
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			s.Accept("x")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Accept blocked behind a stalled send")
	}
	close(c.block)
}

func TestInertWithoutChat(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	s := newTestSink(t, c, func(cfg *Config) { cfg.ChatID = "" })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	s.Accept("nobody listens")
	if s.Stats().Queued != 0 {
		t.Fatalf("inert sink must not queue")
	}
	if s.Running() {
		t.Fatalf("inert sink must not run a loop")
	}
}

func TestCloseFlushesQueue(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < 20; i++ {
		s.Accept("m")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(c.snapshot()); n != 20 {
		t.Fatalf("expected 20 sends before close returned, got %d", n)
	}

	s.Accept("late")
	if st := s.Stats(); st.Queued != 0 || st.Dropped != 1 || st.State != "stopped" {
		t.Fatalf("stats after close: %+v", st)
	}
}

func TestCloseDropsWhatCannotBeSent(t *testing.T) {
	t.Parallel()

	c := newFakeClient(true)
	c.block = make(chan struct{})
	s := newTestSink(t, c, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Accept("m")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(c.block)
	}()
	_ = s.Close(ctx)

	if st := s.Stats(); st.Queued != 0 || st.Dropped == 0 {
		t.Fatalf("expected leftovers dropped, got %+v", st)
	}
}

func TestCloseDuringInitStopsLoop(t *testing.T) {
	t.Parallel()

	c := newFakeClient(false)
	c.connecting = make(chan struct{})
	c.release = make(chan struct{})
	s := newTestSink(t, c, nil)

	initErr := make(chan error, 1)
	go func() { initErr <- s.Init(context.Background()) }()

	<-c.connecting
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(c.release)

	select {
	case err := <-initErr:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("init err=%v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("init did not return")
	}

	if s.Running() {
		t.Fatalf("loop running after close")
	}
	if snap := s.Tasks(); len(snap.Tasks) != 0 || snap.Counters.Active != 0 {
		t.Fatalf("loop started after close: %+v", snap)
	}
	s.Accept("late")
	if len(c.snapshot()) != 0 {
		t.Fatalf("sent after close: %+v", c.snapshot())
	}
}
