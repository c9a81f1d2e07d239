package sink

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tglogsink/internal/metrics"
)

// Writer adapts a Sink to zerolog. It is attached to the log service as one
// more LevelWriter; records below the minimum level are ignored.
type Writer struct {
	sink   *Sink
	format func([]byte) string

	mu  sync.RWMutex
	min zerolog.Level
	lim *rate.Limiter
}

// NewWriter returns a writer forwarding records at or above min. ratePerSec
// <= 0 disables the rate filter. A sink without destination forwards nothing.
func NewWriter(s *Sink, min zerolog.Level, ratePerSec float64) *Writer {
	w := &Writer{sink: s, format: FormatHTML}
	w.Apply(min, ratePerSec)
	return w
}

// Apply swaps the level threshold and rate filter.
func (w *Writer) Apply(min zerolog.Level, ratePerSec float64) {
	if w.sink == nil || w.sink.cfg.ChatID.IsZero() {
		min = zerolog.Disabled
	}
	var lim *rate.Limiter
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	w.mu.Lock()
	w.min = min
	w.lim = lim
	w.mu.Unlock()
}

func (w *Writer) MinLevel() zerolog.Level {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.min
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel never fails: a write error here would surface in zerolog's
// error handler on every dropped record.
func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (n int, err error) {
	n = len(p)
	defer func() {
		if r := recover(); r != nil {
			n, err = len(p), nil
		}
	}()

	w.mu.RLock()
	min, lim := w.min, w.lim
	w.mu.RUnlock()

	if min == zerolog.Disabled || level < min {
		return n, nil
	}
	if lim != nil && !lim.Allow() {
		w.sink.drop(metrics.DropRate, 1)
		return n, nil
	}

	msg := w.format(p)
	if msg == "" {
		return n, nil
	}
	w.sink.Accept(msg)
	return n, nil
}
