// Package app wires the reminder core into a long-running daemon: config,
// logging, delivery channel, registry, scheduler, storage and the admin API.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"remindcore/internal/admin"
	"remindcore/internal/config"
	"remindcore/internal/delivery"
	"remindcore/internal/delivery/local"
	"remindcore/internal/eventbus"
	"remindcore/internal/integration"
	"remindcore/internal/registry"
	"remindcore/internal/runtime/supervisor"
	"remindcore/internal/scheduler"
	"remindcore/internal/storage"
	logx "remindcore/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store        storage.Store
	persistEvery time.Duration
	dirty        atomic.Bool

	channel delivery.Channel
	local   *local.Channel
	reg     *registry.Registry
	sched   *scheduler.Service
	facade  *integration.Facade
	admin   *admin.Service
}

type options struct {
	channel delivery.Channel
	present func(delivery.Alert)
}

type Option func(*options)

// WithChannel replaces the configured delivery driver.
func WithChannel(ch delivery.Channel) Option {
	return func(o *options) { o.channel = ch }
}

// WithPresenter is called for every alert the local channel fires.
func WithPresenter(fn func(delivery.Alert)) Option {
	return func(o *options) { o.present = fn }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, log: log, logs: logs, bus: bus}

	a.channel = o.channel
	if a.channel == nil {
		a.local = local.New(mapLocalConfig(cfg), logs.Logger().With(logx.String("comp", "delivery")), o.present)
		a.channel = a.local
	}

	a.sched = scheduler.New(schedCfg, a.channel, logs.Logger().With(logx.String("comp", "scheduler")), bus)
	a.reg = registry.New(mapRegistryConfig(cfg), a.sched, logs.Logger().With(logx.String("comp", "registry")), bus)
	a.sched.Attach(a.reg)
	a.facade = integration.New(a.reg, logs.Logger().With(logx.String("comp", "integration")))

	sc, every, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, logs.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.persistEvery = every
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.Duration("persist_interval", every))
	}

	deps := admin.Deps{
		Registry:   a.reg,
		Reconciler: a.sched,
		Entities:   a.facade,
		Health:     a.health,
	}
	if a.store != nil {
		deps.History = a.store.RecentHistory
	}
	a.admin = admin.New(mapAdminConfig(cfg), deps, logs.Logger().With(logx.String("comp", "admin")))

	return a, nil
}

func (a *App) Facade() *integration.Facade { return a.facade }

func (a *App) Registry() *registry.Registry { return a.reg }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed once the app stops.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error a background loop gave up with.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() any {
	st := a.reg.Stats()
	_, runs := a.sched.LastReport()
	var loops []supervisor.Stats
	if a.sup != nil {
		loops = a.sup.Snapshot()
	}
	return map[string]any{
		"live":           st.Live,
		"retry":          st.Retry,
		"reconcile_runs": runs,
		"storage":        a.store != nil,
		"loops":          loops,
	}
}

// Start restores persisted state, reconciles it against the channel and starts
// the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		_, _, _, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.restore(ctx); err != nil {
		return err
	}
	// Subscribe before the first reconcile so its events reach the store.
	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go0("storage.persist", func(c context.Context) {
			defer unsub()
			a.persistLoop(c, events)
		})
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.admin.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	st := a.reg.Stats()
	a.log.Info("app started", logx.Int("live", st.Live), logx.Int("retry", st.Retry))
	return nil
}

func (a *App) restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	st, ok, err := a.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		a.log.Info("no saved state; starting empty")
		return nil
	}
	n := a.reg.Restore(st)
	a.log.Info("state restored", logx.Int("live", n), logx.Int("retry", len(st.Retry)))
	return nil
}

// Stop stops every component within ctx and saves the final state.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(c); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Stop)
	if a.store != nil {
		step("storage.save", 2*time.Second, a.persist)
		step("storage.close", time.Second, func(context.Context) error { return a.store.Close() })
	}
	if a.local != nil {
		a.local.Stop()
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
