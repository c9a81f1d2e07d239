package sink

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"tglogsink/internal/metrics"
	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
	"tglogsink/pkg/tgui"
)

// run is the delivery loop. It reports on ready exactly once: ErrClientNotConnected
// if the client is down, or nil right before the first wait on the queue.
func (s *Sink) run(ctx context.Context, ready chan<- error) error {
	if !s.client.Connected() {
		s.st.Store(int32(stateFailed))
		s.log.Error("delivery loop cannot start: telegram client is not connected")
		ready <- ErrClientNotConnected
		return ErrClientNotConnected
	}

	s.st.Store(int32(stateIdle))
	ready <- nil

	for {
		msg, err := s.queue.Pop(ctx)
		if err != nil {
			s.st.Store(int32(stateStopped))
			return nil
		}
		s.st.Store(int32(stateSending))
		metrics.QueueDepth.Set(float64(s.queue.Len()))

		s.deliver(ctx, msg)

		s.queue.Done()
		s.st.Store(int32(stateIdle))
	}
}

func (s *Sink) deliver(ctx context.Context, msg string) {
	kind := metrics.KindText
	if utf8.RuneCountInString(msg) >= s.cfg.MaxMessageLen {
		kind = metrics.KindFile
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err := s.send(sctx, kind, msg)
	metrics.SendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		s.failed.Add(1)
		metrics.SendFailures.WithLabelValues(kind).Inc()
		s.log.Warn("log delivery failed",
			logx.String("kind", kind),
			logx.String("size", humanize.Bytes(uint64(len(msg)))),
			logx.Err(err),
		)
		return
	}
	s.delivered.Add(1)
	metrics.Sent.WithLabelValues(kind).Inc()
}

// send performs one attempt. A panicking client is reported as an error.
func (s *Sink) send(ctx context.Context, kind, msg string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Debug("send panic stack", logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in send: %v", r)
		}
	}()

	if kind == metrics.KindText {
		return s.client.SendText(ctx, s.cfg.ChatID, msg, s.opts)
	}

	doc := kit.Document{
		Name:    "log-" + uuid.NewString() + ".txt",
		Content: []byte(msg),
		Caption: tgui.Prefix(msg, s.cfg.CaptionLen),
	}
	// the caption is a cut of the markup, so it goes out as plain text.
	opt := *s.opts
	opt.ParseMode = ""
	return s.client.SendFile(ctx, s.cfg.ChatID, doc, &opt)
}
