// Package heartbeat emits a scheduled liveness record through the normal log
// path, so an operator watching the chat notices when it stops arriving.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"tglogsink/internal/sink"
	logx "tglogsink/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	Level    logx.Level
}

// StatsFunc reports the current delivery counters.
type StatsFunc func() sink.Stats

type Service struct {
	log    logx.Logger
	stats  StatsFunc
	parser cron.Parser
	start  time.Time
	level  atomic.Int32

	// mu is never held by Beat: stopping cron waits for running jobs.
	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	id  cron.EntryID
}

// Parser accepts 5-field specs, optional seconds, and descriptors like "@every 1h".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	if _, err := Parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("heartbeat.schedule: %w", err)
	}
	return nil
}

func New(cfg Config, stats StatsFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, stats: stats, parser: Parser, cfg: cfg, start: time.Now()}
	s.level.Store(int32(cfg.Level))
	return s
}

// Start schedules the heartbeat when enabled. It is a no-op otherwise.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}
	loc := loadLocation(s.cfg.Timezone, s.log)
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id, err := c.AddFunc(strings.TrimSpace(s.cfg.Schedule), s.Beat)
	if err != nil {
		return fmt.Errorf("heartbeat schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c, s.id = c, id
	s.log.Debug("heartbeat scheduled", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Apply reschedules when the config changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	s.level.Store(int32(cfg.Level))
	s.stopLocked()
	return s.startLocked()
}

// Next returns the next scheduled run, or zero when not scheduled.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.id).Next
}

// Beat writes one heartbeat record.
func (s *Service) Beat() {
	level := logx.Level(s.level.Load())
	fields := []logx.Field{
		logx.String("uptime", strings.TrimSpace(humanize.RelTime(s.start, time.Now(), "", ""))),
	}
	if s.stats != nil {
		st := s.stats()
		fields = append(fields,
			logx.String("state", st.State),
			logx.Int("queued", st.Queued),
			logx.String("delivered", humanize.Comma(int64(st.Delivered))),
			logx.Uint64("failed", st.Failed),
			logx.Uint64("dropped", st.Dropped),
		)
	}
	s.log.Log(level, "heartbeat", fields...)
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
