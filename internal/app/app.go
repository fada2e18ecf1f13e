package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tickbot/internal/config"
	"tickbot/internal/delivery"
	"tickbot/internal/eventbus"
	"tickbot/internal/runtime/supervisor"
	"tickbot/internal/storage"
	"tickbot/internal/task/scheduler"
	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
	"tickbot/pkg/systemd"
)

// deliveryJob is the scheduler entry that drives the bot.
const deliveryJob = "delivery"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	msg   kit.Messenger

	deliv *delivery.Service
	sched *scheduler.Service

	// schedule is the spec registered at startup; changes need a restart.
	schedule string
}

type Option func(*options)

type options struct {
	msg       kit.Messenger
	delivOpts []delivery.Option
}

// WithMessenger replaces the platform client built from config.
func WithMessenger(m kit.Messenger) Option { return func(o *options) { o.msg = m } }

// WithDeliveryOptions passes extra options to the delivery service.
func WithDeliveryOptions(opts ...delivery.Option) Option {
	return func(o *options) { o.delivOpts = append(o.delivOpts, opts...) }
}

// New loads the config and wires every component. Nothing is sent until
// Start.
func New(ctx context.Context, cfgm *config.Manager, opts ...Option) (*App, error) {
	if cfgm == nil {
		return nil, errors.New("config manager is required")
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	// transactional config reload: validate before commit/publish
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	// The chat sink needs the messenger, which needs a logger. Start with no
	// sender and attach it once the messenger exists.
	logSvc, log := logx.New(logConfig(cfg), nil)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	msg := o.msg
	if msg == nil {
		msg, err = newMessenger(cfg, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}
	logSvc.SetSender(msg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := StorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		log.Warn("storage disabled; deliveries will not be recorded")
	}

	set, err := deliverySettings(cfg)
	if err != nil {
		closeAll(store, logSvc)
		return nil, err
	}
	dopts := append([]delivery.Option{
		delivery.WithBus(bus),
		delivery.WithLogger(log.With(logx.String("comp", "delivery"))),
	}, o.delivOpts...)
	deliv, err := delivery.New(msg, store, set, dopts...)
	if err != nil {
		closeAll(store, logSvc)
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler")))
	// Delivery results are reported, not returned, so the job never fails.
	_, err = sched.AddSchedule(deliveryJob, cfg.Scheduler.Schedule,
		scheduler.Options{RunOnStart: cfg.Scheduler.RunOnStartEnabled()},
		func(ctx context.Context) error {
			deliv.Fire(ctx)
			return nil
		})
	if err != nil {
		closeAll(store, logSvc)
		return nil, fmt.Errorf("scheduler.schedule: %w", err)
	}

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		msg:      msg,
		deliv:    deliv,
		sched:    sched,
		schedule: cfg.Scheduler.Schedule,
	}, nil
}

// validate checks what config.Validate cannot: the schedule grammar and the
// storage mapping.
func validate(_ context.Context, cfg *config.Config) error {
	if err := scheduler.ValidateSchedule(cfg.Scheduler.Schedule); err != nil {
		return fmt.Errorf("scheduler.schedule: %w", err)
	}
	if _, _, err := StorageConfig(cfg); err != nil {
		return err
	}
	_, err := deliverySettings(cfg)
	return err
}

func closeAll(store storage.Store, logs *logx.Service) {
	if store != nil {
		_ = store.Close()
	}
	if logs != nil {
		_ = logs.Close()
	}
}

func (a *App) Store() storage.Store { return a.store }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

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

// Start sends the startup notice, starts the clock and the background
// loops. The startup notice is sent before the first firing.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if cfg.Bot.StartupMessageEnabled() {
		a.deliv.Startup(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	// Log events for debugging; components can also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level to avoid noise for frequent schedules.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
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
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		if iv := systemd.WatchdogInterval(); iv > 0 {
			a.sup.Go0("systemd.watchdog", func(c context.Context) {
				if err := systemd.Watchdog(c, iv); err != nil {
					a.log.Warn("systemd watchdog stopped", logx.Err(err))
				}
			})
		}
		_, _ = systemd.Status("firing on " + a.schedule)
	}

	a.log.Info("app started",
		logx.String("platform", a.msg.Platform()),
		logx.String("schedule", a.schedule),
		logx.Bool("run_on_start", cfg.Scheduler.RunOnStartEnabled()),
	)
	return nil
}

// applyConfig pushes a reloaded config into the live components. Keys that
// only take effect after a restart are reported and left alone.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("keys", strings.Join(ch.RestartRequired, ",")))
	}

	a.logs.Apply(logConfig(newCfg))

	set, err := deliverySettings(newCfg)
	if err == nil {
		err = a.deliv.Apply(set)
	}
	if err != nil {
		a.log.Warn("invalid bot config; keeping previous", logx.Err(err))
	}

	a.sched.Apply(scheduler.Config{Timezone: newCfg.Scheduler.Timezone})

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Time: time.Now(), Data: ch.Sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		closeAll(a.store, a.logs)
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The scheduler goes first so an in-flight firing records its outcome
	// before the store closes.
	step("scheduler", 7*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
