// Package app wires config, logging, the Telegram sink and its optional
// companions (chat cache, heartbeat, observability server) into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tglogsink/internal/config"
	"tglogsink/internal/heartbeat"
	"tglogsink/internal/observability/server"
	"tglogsink/internal/resolver"
	rtsup "tglogsink/internal/runtime/supervisor"
	"tglogsink/internal/sink"
	"tglogsink/internal/storage"
	kit "tglogsink/internal/transport"
	telegram "tglogsink/internal/transport/telegram/adapter"
	logx "tglogsink/pkg/logx"
)

// SinkName is the name the Telegram writer is attached under in the log service.
const SinkName = "telegram"

type App struct {
	instance string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	client kit.Client
	sink   *sink.Sink
	writer *sink.Writer
	beat   *heartbeat.Service
	obs    *server.Service
}

// New loads the config and builds everything that does not touch the network.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	instance := uuid.NewString()
	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"), logx.String("instance", instance))

	sendTimeout := config.MustDuration(cfg.Telegram.SendTimeout, config.DefaultSendTimeout)
	httpc, err := kit.NewHTTPClient(sendTimeout, cfg.Telegram.Proxy)
	if err != nil {
		return nil, err
	}
	// The client logs through Local() so its own failures never re-enter the sink.
	client, err := telegram.Open(telegram.Config{
		Driver:  cfg.Telegram.Client,
		APIRoot: cfg.Telegram.APIRootOrDefault(),
	}, httpc, logSvc.Local().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	return &App{
		instance: instance,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		client:   client,
	}, nil
}

// Logger returns the root logger. Records at or above the sink level are
// forwarded to Telegram once Start has attached the writer.
func (a *App) Logger() logx.Logger { return a.logs.Logger() }

// Sink is nil until Start.
func (a *App) Sink() *sink.Sink { return a.sink }

func (a *App) Instance() string { return a.instance }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// ResolveChat returns the destination chat: configured, cached, or looked up
// through getUpdates. ok=false means Telegram forwarding stays off.
func (a *App) ResolveChat(ctx context.Context) (kit.ChatID, bool) {
	cfg := a.cfgm.Get()
	timeout := config.MustDuration(cfg.Telegram.Timeout, config.DefaultTimeout)

	var lookup sink.ChatLookup
	httpc, err := kit.NewHTTPClient(timeout, cfg.Telegram.Proxy)
	if err != nil {
		a.log.Warn("resolver http client", logx.Err(err))
	} else {
		lookup = resolver.New(resolver.Config{
			APIRoot: cfg.Telegram.APIRootOrDefault(),
			Token:   cfg.Telegram.Token,
			Timeout: timeout,
		}, httpc, a.log.With(logx.String("comp", "resolver")))
	}

	var cache sink.ChatCache
	if a.store != nil {
		cache = a.store
	}
	return sink.ResolveDestination(ctx, kit.ChatID(cfg.Telegram.ChatID), cache,
		storage.TokenKey(cfg.Telegram.Token), lookup, a.log.With(logx.String("comp", "bootstrap")))
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if c.Heartbeat.Enabled {
			if err := heartbeat.ValidateSchedule(c.Heartbeat.Schedule); err != nil {
				return err
			}
		}
		if _, _, err := mapStorageConfig(c); err != nil {
			return err
		}
		_, err := mapSinkConfig(c, "")
		return err
	})

	chat, _ := a.ResolveChat(ctx)
	scfg, err := mapSinkConfig(cfg, chat)
	if err != nil {
		return err
	}
	a.sink = sink.New(scfg, a.client, a.logs.Local().With(logx.String("comp", "sink")))
	if err := a.sink.Init(ctx); err != nil {
		a.log.Error("telegram sink failed to start", logx.Err(err))
		return fmt.Errorf("sink init: %w", err)
	}

	level, rate := mapWriterConfig(cfg)
	a.writer = sink.NewWriter(a.sink, level, rate)
	a.logs.AttachSink(SinkName, a.writer)

	a.beat = heartbeat.New(mapHeartbeatConfig(cfg), a.sink.Stats,
		a.logs.Logger().With(logx.String("comp", "heartbeat"), logx.String("instance", a.instance)))
	if err := a.beat.Start(a.sup.Context()); err != nil {
		a.log.Warn("heartbeat not scheduled", logx.Err(err))
	}

	a.obs = server.New(mapObservabilityConfig(cfg), a.health, a.log.With(logx.String("comp", "observability")))
	a.obs.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("chat", chat.String()),
		logx.String("sink_level", level.String()),
		logx.Bool("heartbeat", cfg.Heartbeat.Enabled),
		logx.Bool("observability", cfg.Observability.Enabled),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogConfig(next))

	level, rate := mapWriterConfig(next)
	a.writer.Apply(level, rate)

	if err := a.beat.Apply(mapHeartbeatConfig(next)); err != nil {
		a.log.Warn("invalid heartbeat config; heartbeat stopped", logx.Err(err))
	}
	a.obs.Reconfigure(ctx, mapObservabilityConfig(next))

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// healthDetail is the /healthz payload.
type healthDetail struct {
	Instance string            `json:"instance,omitempty"`
	Sink     sink.Stats        `json:"sink"`
	Tasks    []rtsup.TaskStats `json:"tasks"`
}

func (a *App) health() (any, error) {
	if a.sink == nil {
		return nil, errors.New("not started")
	}
	d := healthDetail{Instance: a.instance, Sink: a.sink.Stats()}
	d.Tasks = append(d.Tasks, a.sup.Snapshot().Tasks...)
	d.Tasks = append(d.Tasks, a.sink.Tasks().Tasks...)
	sort.Slice(d.Tasks, func(i, j int) bool { return d.Tasks[i].Name < d.Tasks[j].Name })

	if d.Sink.Chat == "" {
		// forwarding is off by configuration, not broken
		return d, nil
	}
	if a.sink.Running() {
		return d, nil
	}
	if err := a.sink.Err(); err != nil {
		return d, err
	}
	return d, errors.New("delivery loop not running")
}

// Stop drains the sink within sink.drain_timeout and releases everything
// else. It is safe to call once after Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	cfg := a.cfgm.Get()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max <= 0 {
				a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
				return
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("heartbeat", 2*time.Second, func(c context.Context) error {
		if a.beat != nil {
			a.beat.Stop(c)
		}
		return nil
	})
	step("observability", 2*time.Second, func(c context.Context) error {
		if a.obs != nil {
			a.obs.Stop(c)
		}
		return nil
	})
	// Give the sink a little longer than its own drain budget to stop the loop.
	drain := drainTimeout(cfg)
	step("sink", drain+3*time.Second, func(c context.Context) error {
		if a.sink == nil {
			return nil
		}
		dctx, cancel := context.WithTimeout(c, drain)
		defer cancel()
		err := a.sink.Close(dctx)
		a.logs.DetachSink(SinkName)
		st := a.sink.Stats()
		a.log.Info("sink closed", logx.Uint64("delivered", st.Delivered), logx.Uint64("failed", st.Failed), logx.Uint64("dropped", st.Dropped))
		return err
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases what New opened when Start was never called.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
