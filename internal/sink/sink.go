// Package sink delivers formatted log messages to a single Telegram chat.
//
// Producers call Accept, which only enqueues. One delivery loop drains the
// queue in FIFO order and sends each message through a transport.Client:
// short messages as text, long ones as a document with a caption preview.
package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tglogsink/internal/metrics"
	rtsup "tglogsink/internal/runtime/supervisor"
	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

const (
	// MaxMessageLen is Telegram's text limit. Messages at or above it go out as files.
	MaxMessageLen = 4096
	// CaptionLen caps the preview attached to a file delivery.
	CaptionLen = 1000
)

var (
	ErrClientNotConnected = errors.New("telegram client not connected")
	ErrClosed             = errors.New("sink closed")
	ErrNotReady           = errors.New("delivery loop did not become ready")
)

type Config struct {
	Token  string
	ChatID kit.ChatID

	ParseMode           string
	DisableNotification bool
	DisablePreview      bool

	// SendTimeout bounds one send attempt; 0 means 10s.
	SendTimeout time.Duration
	// ReadyTimeout bounds how long Init waits for the loop to go idle; 0 means 5s.
	ReadyTimeout time.Duration

	// QueueCapacity 0 keeps the queue unbounded.
	QueueCapacity int
	Overflow      OverflowPolicy

	// MaxMessageLen/CaptionLen default to the package constants when 0.
	MaxMessageLen int
	CaptionLen    int
}

type state int32

const (
	stateStopped state = iota
	stateIdle
	stateSending
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSending:
		return "sending"
	case stateFailed:
		return "failed"
	default:
		return "stopped"
	}
}

// Stats is a point-in-time view for health checks and heartbeats.
type Stats struct {
	State     string `json:"state"`
	Queued    int    `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Chat      string `json:"chat,omitempty"`
}

// Sink is the façade producers write to. It is safe for concurrent use.
type Sink struct {
	cfg    Config
	client kit.Client
	log    logx.Logger
	queue  *Queue
	opts   *kit.SendOptions

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	started bool

	closed    atomic.Bool
	st        atomic.Int32
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New builds a sink. log receives the sink's own diagnostics and must not be
// routed back into this sink.
func New(cfg Config, client kit.Client, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = MaxMessageLen
	}
	if cfg.CaptionLen <= 0 {
		cfg.CaptionLen = CaptionLen
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		log:    log,
		queue:  NewQueue(cfg.QueueCapacity, cfg.Overflow),
		opts: &kit.SendOptions{
			ParseMode:           cfg.ParseMode,
			DisablePreview:      cfg.DisablePreview,
			DisableNotification: cfg.DisableNotification,
		},
	}
}

// Accept enqueues an already formatted message. It never blocks, never fails,
// and performs no I/O. Without a destination the sink is inert and drops.
func (s *Sink) Accept(text string) {
	if s == nil || s.cfg.ChatID.IsZero() {
		return
	}
	if s.closed.Load() {
		s.drop(metrics.DropClosed, 1)
		return
	}
	if s.queue.Push(text) {
		s.drop(metrics.DropOverflow, 1)
		if s.cfg.Overflow == DropNewest {
			return
		}
	}
	metrics.Enqueued.Inc()
	metrics.QueueDepth.Set(float64(s.queue.Len()))
}

func (s *Sink) drop(reason string, n int) {
	if n <= 0 {
		return
	}
	s.dropped.Add(uint64(n))
	metrics.Dropped.WithLabelValues(reason).Add(float64(n))
}

// Init connects the client when needed, starts the delivery loop, and returns
// once the loop is idle on the queue. A loop that cannot start (disconnected
// client) is reported as ErrClientNotConnected.
func (s *Sink) Init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cfg.ChatID.IsZero() {
		s.log.Debug("no destination chat; sink stays inert")
		return nil
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrClosed
	}
	s.started = true
	s.mu.Unlock()

	if !s.client.Connected() {
		if err := s.client.Connect(ctx, s.cfg.Token); err != nil {
			s.log.Error("telegram client connect failed", logx.Err(err))
		}
	}

	sup := rtsup.NewSupervisor(context.Background(),
		rtsup.WithLogger(s.log.With(logx.String("comp", "sink"))),
		// a dead loop must surface through Err(), not take the process down.
		rtsup.WithCancelOnError(false),
	)
	ready := make(chan error, 1)
	s.mu.Lock()
	// Close may have run while connecting; it only cancels a stored supervisor.
	if s.closed.Load() {
		s.mu.Unlock()
		sup.Cancel()
		return ErrClosed
	}
	s.sup = sup
	sup.Go("delivery.loop", func(c context.Context) error {
		return s.run(c, ready)
	})
	s.mu.Unlock()

	t := time.NewTimer(s.cfg.ReadyTimeout)
	defer t.Stop()
	select {
	case err := <-ready:
		if err != nil {
			return err
		}
		s.log.Info("log delivery live", logx.String("chat", s.cfg.ChatID.String()), logx.Int("queued", s.queue.Len()))
		return nil
	case <-t.C:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake and gives the loop until ctx is done to flush what is
// queued. Whatever is left afterwards is dropped.
func (s *Sink) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	if sup != nil && s.Running() {
		s.waitDrained(ctx)
	}
	if sup != nil {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = sup.Wait(wctx)
		cancel()
	}

	if n := s.queue.Drain(); n > 0 {
		s.drop(metrics.DropShutdown, n)
		s.log.Warn("log messages dropped on shutdown", logx.Int("count", n))
	}
	metrics.QueueDepth.Set(0)
	if state(s.st.Load()) != stateFailed {
		s.st.Store(int32(stateStopped))
	}
	return nil
}

func (s *Sink) waitDrained(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.queue.Idle() {
			return
		}
		if !s.Running() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Running reports whether the delivery loop is alive (idle or sending).
func (s *Sink) Running() bool {
	switch state(s.st.Load()) {
	case stateIdle, stateSending:
		return true
	default:
		return false
	}
}

// Err returns the loop's fatal error, if any.
func (s *Sink) Err() error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Tasks returns the delivery loop's supervisor snapshot. Empty before Init.
func (s *Sink) Tasks() rtsup.Snapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup.Snapshot()
}

func (s *Sink) Stats() Stats {
	return Stats{
		State:     state(s.st.Load()).String(),
		Queued:    s.queue.Len(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Chat:      s.cfg.ChatID.String(),
	}
}
