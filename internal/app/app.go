// Package app wires configuration, sources, the tracker and the chat
// transport into one process and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"econbot/internal/config"
	"econbot/internal/eventbus"
	"econbot/internal/notifier"
	"econbot/internal/observability/health"
	"econbot/internal/runtime/supervisor"
	"econbot/internal/sources"
	"econbot/internal/storage"
	"econbot/internal/task/scheduler"
	"econbot/internal/tracker"
	kit "econbot/internal/transport"
	telegram "econbot/internal/transport/telegram/adapter"
	"econbot/internal/transport/telegram/router"
	"econbot/pkg/logx"
	"econbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store       storage.Store
	storeDriver string

	adapter kit.Adapter
	notif   *notifier.Service
	tracker *tracker.Tracker
	router  *router.Router
	sched   *scheduler.Service
	metrics *health.Metrics
	health  *health.Service

	now     func() time.Time
	updates chan kit.Update
}

type options struct {
	adapter kit.Adapter
	store   storage.Store
	sources []sources.Adapter
	now     func() time.Time
}

// Option replaces a dependency New would otherwise build from config.
type Option func(*options)

func WithAdapter(a kit.Adapter) Option        { return func(o *options) { o.adapter = a } }
func WithStore(st storage.Store) Option       { return func(o *options) { o.store = st } }
func WithSources(as []sources.Adapter) Option { return func(o *options) { o.sources = as } }
func WithClock(now func() time.Time) Option   { return func(o *options) { o.now = now } }

// New loads the config at cfgPath (empty means environment only) and builds
// every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateSchedules)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.Component("app")
	cfgm.SetLogger(root.Component("config"))

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, root)
		if err != nil {
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})

	st, driver := o.store, cfg.Store.Driver
	if st == nil {
		st, driver, err = OpenStore(ctx, cfg, root.Component("storage"))
		if err != nil {
			return nil, err
		}
	}
	log.Info("storage opened", logx.String("driver", driver))

	tcfg := tracker.FromConfig(*cfg)
	adapters := o.sources
	if adapters == nil {
		adapters, err = sources.Build(cfg.Sources, sources.Options{
			Location: tcfg.Location,
			Log:      root,
			Now:      o.now,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	bus := eventbus.New()
	notif := notifier.New(notifier.FromConfig(*cfg), ad, root, bus)
	tr := tracker.New(tcfg, adapters, st, notif, bus, root, tracker.WithClock(o.now))

	rt := router.New(ad, root, router.Options{
		Workers: cfg.Telegram.CommandWorkers,
		Owners:  cfg.Telegram.OwnerUserIDs,
		Bus:     bus,
		Timeout: 30 * time.Second,
	})

	a := &App{
		cfgm:        cfgm,
		root:        root,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       st,
		storeDriver: driver,
		adapter:     ad,
		notif:       notif,
		tracker:     tr,
		router:      rt,
		sched:       scheduler.New(tcfg.Location, root.Component("scheduler")),
		metrics:     health.NewMetrics(bus),
		now:         o.now,
		updates:     make(chan kit.Update, 256),
	}
	a.health = health.New(health.FromConfig(cfg.Health), health.Readiness{
		Ping:      st.Ping,
		LastCycle: a.lastCycle,
		Interval:  a.pollEvery,
		Now:       o.now,
	}, a.metrics, root)

	rt.Register(a.commands()...)
	if err := a.registerJobs(cfg); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// validateSchedules rejects schedules the cron parser cannot read, so a bad
// hot reload keeps the previous config.
func validateSchedules(_ context.Context, cfg *config.Config) error {
	if _, err := scheduler.ParseSchedule(cfg.Tracker.PollInterval); err != nil {
		return fmt.Errorf("tracker.poll_interval: %w", err)
	}
	if cfg.Digest.Enabled {
		if _, err := scheduler.ParseSchedule(cfg.Digest.Schedule); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) Tracker() *tracker.Tracker { return a.tracker }

// RotateLogs reopens the log file, for SIGHUP from logrotate.
func (a *App) RotateLogs() {
	if err := a.logs.Rotate(); err != nil {
		a.log.Warn("log rotation failed", logx.Err(err))
		return
	}
	a.log.Info("log file rotated")
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

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

// RunCycle runs one tracker cycle bounded by the configured cycle timeout.
func (a *App) RunCycle(ctx context.Context) (tracker.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, a.tracker.Config().CycleTimeout)
	defer cancel()
	return a.tracker.Run(ctx)
}

func (a *App) lastCycle() (time.Time, bool) {
	rep, ok := a.tracker.LastReport()
	if !ok {
		return time.Time{}, false
	}
	return rep.Started.Add(rep.Took), true
}

// pollEvery is the gap between the next two poll triggers.
func (a *App) pollEvery() time.Duration {
	runs, err := a.sched.NextRuns(a.cfgm.Get().Tracker.PollInterval, a.now(), 2)
	if err != nil || len(runs) < 2 {
		return 5 * time.Minute
	}
	return runs[1].Sub(runs[0])
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.router.PublishMenu(mctx); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
	})

	a.sup.Go0("metrics.consume", func(c context.Context) { a.metrics.Consume(c, a.bus) })
	a.health.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	// first cycle right away instead of waiting for the first tick
	a.sup.Go0("tracker.first_cycle", func(c context.Context) {
		if _, err := a.RunCycle(c); err != nil && c.Err() == nil {
			a.log.Warn("initial cycle failed", logx.Err(err))
		}
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if rep, ok := e.Data.(tracker.Report); ok {
					_, _ = systemd.Status(rep.Summary())
				}
			}
		}
	})

	a.startReload()

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, iv, a.store.Ping)
		})
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.String("sources", strings.Join(a.tracker.Sources(), ",")),
		logx.String("store", a.storeDriver))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	steps := []struct {
		name   string
		budget time.Duration
		fn     func(context.Context) error
	}{
		{"scheduler", 2 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"health", time.Second, func(c context.Context) error { a.health.Stop(c); return nil }},
		{"adapter", 2 * time.Second, a.adapter.Stop},
		// an in-flight cycle must finish before the store goes away
		{"supervisor", 3 * time.Second, a.sup.Wait},
		{"storage", time.Second, func(context.Context) error { return a.store.Close() }},
	}
	for _, st := range steps {
		a.stopStep(ctx, st.name, st.budget, st.fn)
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

// stopStep runs fn with at most budget (and never past ctx's deadline). A
// step that overruns is abandoned so later steps still get their turn; its
// eventual result is logged.
func (a *App) stopStep(ctx context.Context, name string, budget time.Duration, fn func(context.Context) error) {
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step failed", logx.String("step", name), logx.Duration("took", took), logx.Err(err))
		} else {
			a.log.Debug("stop step done", logx.String("step", name), logx.Duration("took", took))
		}
	case <-sctx.Done():
		a.log.Warn("stop step overran, moving on", logx.String("step", name), logx.Duration("budget", budget))
		go func() {
			err := <-done
			a.log.Info("abandoned stop step finished", logx.String("step", name),
				logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
