// Package local is an in-process delivery channel backed by runtime timers.
//
// It stands in for the OS notification queue: it enforces a pending quota and an
// intake rate limit (both surface as reminder.ErrDeliveryRejected), fires each
// handle once, and can simulate the OS dropping its queue (Reset).
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindcore/internal/delivery"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config controls platform-like limits.
type Config struct {
	// MaxPending is the platform quota of simultaneously scheduled alerts.
	MaxPending int
	// RatePerSec limits Schedule calls. 0 disables the limiter.
	RatePerSec int
}

type entry struct {
	timer *time.Timer
	alert delivery.Alert
}

type Channel struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter
	entries map[reminder.Handle]*entry
	onFired func(reminder.Handle)
	present func(delivery.Alert)
	stopped bool
}

var _ delivery.Channel = (*Channel)(nil)

// New returns a running channel. present (optional) is called for every fired alert
// before the OnFired callback; it is where a host would hand the alert to the OS.
func New(cfg Config, log logx.Logger, present func(delivery.Alert)) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 64
	}
	c := &Channel{
		cfg:     cfg,
		log:     log,
		entries: map[reminder.Handle]*entry{},
		present: present,
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return c
}

func (c *Channel) OnFired(fn func(h reminder.Handle)) {
	c.mu.Lock()
	c.onFired = fn
	c.mu.Unlock()
}

func (c *Channel) Schedule(ctx context.Context, fireAt time.Time, content reminder.Content) (reminder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", reminder.ErrDeliveryRejected, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return "", fmt.Errorf("%w: channel stopped", reminder.ErrDeliveryRejected)
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return "", fmt.Errorf("%w: rate limited", reminder.ErrDeliveryRejected)
	}
	if len(c.entries) >= c.cfg.MaxPending {
		return "", fmt.Errorf("%w: pending quota %d reached", reminder.ErrDeliveryRejected, c.cfg.MaxPending)
	}

	h := reminder.Handle("lc-" + uuid.NewString())
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	e := &entry{alert: delivery.Alert{Handle: h, FireAt: fireAt, Content: content}}
	e.timer = time.AfterFunc(delay, func() { c.fire(h) })
	c.entries[h] = e
	c.log.Debug("alert queued", logx.String("handle", string(h)), logx.Time("fire_at", fireAt))
	return h, nil
}

func (c *Channel) fire(h reminder.Handle) {
	c.mu.Lock()
	e, ok := c.entries[h]
	if !ok || c.stopped {
		// Cancelled or dropped before the timer ran.
		c.mu.Unlock()
		return
	}
	delete(c.entries, h)
	fn := c.onFired
	present := c.present
	c.mu.Unlock()

	c.log.Info("alert fired", logx.String("handle", string(h)), logx.String("title", e.alert.Content.Title))
	if present != nil {
		present(e.alert)
	}
	if fn != nil {
		fn(h)
	}
}

func (c *Channel) Cancel(ctx context.Context, h reminder.Handle) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[h]
	if !ok {
		return reminder.ErrUnknownHandle
	}
	e.timer.Stop()
	delete(c.entries, h)
	return nil
}

func (c *Channel) ListPending(ctx context.Context) ([]reminder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	out := make([]reminder.Handle, 0, len(c.entries))
	for h := range c.entries {
		out = append(out, h)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Alerts returns the queued alerts ordered by fire time.
func (c *Channel) Alerts() []delivery.Alert {
	c.mu.Lock()
	out := make([]delivery.Alert, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.alert)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Reset drops every queued alert without firing, the way an OS-level reset would.
func (c *Channel) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	for h, e := range c.entries {
		e.timer.Stop()
		delete(c.entries, h)
	}
	if n > 0 {
		c.log.Warn("alert queue reset", logx.Int("dropped", n))
	}
	return n
}

// Stop cancels all timers; later Schedule calls are rejected.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.stopped = true
	for _, e := range c.entries {
		e.timer.Stop()
	}
	c.mu.Unlock()
}
