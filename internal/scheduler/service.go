package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindcore/internal/delivery"
	"remindcore/internal/eventbus"
	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

const (
	defaultReconcileInterval = time.Minute
	defaultDeliveryTimeout   = 5 * time.Second
	warnThrottle             = 5 * time.Second
)

type Option func(*Service)

// WithClock overrides time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, ch delivery.Channel, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		cfg: normalize(cfg),
		log: log,
		bus: bus,
		ch:  ch,
		now: time.Now,
	}
	s.warnEvery.Interval = warnThrottle
	s.loc = loadLocation(s.cfg.Timezone, log)
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalize(cfg Config) Config {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	return cfg
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Attach wires the registry whose fire callbacks and sweeps this service drives.
// Call it once, before Start.
func (s *Service) Attach(reg *registry.Registry) {
	s.mu.Lock()
	s.reg = reg
	s.mu.Unlock()
}

// Location is the zone used for anchors that were given without one.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the config. A changed interval takes effect on the running sweep.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	if s.c != nil && old.ReconcileInterval != cfg.ReconcileInterval {
		s.c.Remove(s.entryID)
		s.entryID = s.c.Schedule(cron.Every(cfg.ReconcileInterval), cron.FuncJob(s.sweep))
		s.log.Info("reconcile interval changed", logx.Duration("interval", cfg.ReconcileInterval))
	}
}

// Start registers the fire callback, runs one sweep immediately (startup repair)
// and then sweeps every ReconcileInterval until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	if s.reg == nil {
		s.mu.Unlock()
		return errors.New("scheduler: no registry attached")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx, s.stopRun = runCtx, cancel
	s.c = cron.New(cron.WithLocation(s.loc))
	s.entryID = s.c.Schedule(cron.Every(s.cfg.ReconcileInterval), cron.FuncJob(s.sweep))
	interval := s.cfg.ReconcileInterval
	c := s.c
	s.mu.Unlock()

	s.ch.OnFired(s.handleFired)
	if _, err := s.ReconcileNow(ctx); err != nil {
		s.log.Warn("startup reconcile failed", logx.Err(err))
	}
	c.Start()
	s.log.Info("service started", logx.Duration("reconcile_interval", interval), logx.String("tz", s.Location().String()))
	return nil
}

// Stop halts the sweep. Queued alerts stay with the channel.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	stop := s.stopRun
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if stop != nil {
		stop()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

func (s *Service) attached() *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

// handleFired is the channel's fire callback.
func (s *Service) handleFired(h reminder.Handle) {
	reg := s.attached()
	if reg == nil {
		return
	}
	ctx := s.runContext()
	fired, gen, ok := reg.MarkFired(ctx, h)
	if !ok || !fired.Recurring() {
		return
	}
	next, err := reg.Advance(ctx, fired, gen)
	switch {
	case err == nil:
		s.log.Debug("recurring reminder advanced",
			logx.String("key", fired.Key.String()),
			logx.Time("next", next.FireAt),
		)
	case errors.Is(err, registry.ErrSuperseded):
		s.log.Debug("successor skipped; reminder changed after firing", logx.String("key", fired.Key.String()))
	case errors.Is(err, reminder.ErrNoValidOccurrence):
		s.log.Info("recurring reminder has no further occurrence", logx.String("key", fired.Key.String()))
	default:
		// Rejections are queued in the retry set by the registry.
		s.warn("could not schedule next occurrence", fired.Key.String(), err)
	}
}

func (s *Service) warn(msg, key string, err error) {
	s.warnEvery.Do(func() {
		s.log.Warn(msg, logx.String("key", key), logx.Err(err))
	})
}
