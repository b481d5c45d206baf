// Package deliverytest provides a manually driven delivery.Channel for tests.
package deliverytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindcore/internal/delivery"
	"remindcore/internal/reminder"
)

// Channel holds alerts until a test fires, drops or injects them.
type Channel struct {
	mu      sync.Mutex
	seq     int
	pending map[reminder.Handle]delivery.Alert
	onFired func(reminder.Handle)

	reject error
	delay  time.Duration

	scheduled int
	cancelled int
}

var _ delivery.Channel = (*Channel)(nil)

func New() *Channel {
	return &Channel{pending: map[reminder.Handle]delivery.Alert{}}
}

func (c *Channel) Schedule(ctx context.Context, fireAt time.Time, content reminder.Content) (reminder.Handle, error) {
	c.mu.Lock()
	delay, reject := c.delay, c.reject
	c.mu.Unlock()
	_ = ctx
	if delay > 0 {
		// A slow platform still accepts after the caller gave up.
		time.Sleep(delay)
	}
	if reject != nil {
		return "", reject
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.scheduled++
	h := reminder.Handle(fmt.Sprintf("t-%d", c.seq))
	c.pending[h] = delivery.Alert{Handle: h, FireAt: fireAt, Content: content}
	return h, nil
}

func (c *Channel) Cancel(_ context.Context, h reminder.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[h]; !ok {
		return reminder.ErrUnknownHandle
	}
	delete(c.pending, h)
	c.cancelled++
	return nil
}

func (c *Channel) ListPending(ctx context.Context) ([]reminder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	out := make([]reminder.Handle, 0, len(c.pending))
	for h := range c.pending {
		out = append(out, h)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (c *Channel) OnFired(fn func(reminder.Handle)) {
	c.mu.Lock()
	c.onFired = fn
	c.mu.Unlock()
}

// Fire delivers h synchronously. It reports false if h was not pending.
func (c *Channel) Fire(h reminder.Handle) bool {
	c.mu.Lock()
	_, ok := c.pending[h]
	delete(c.pending, h)
	fn := c.onFired
	c.mu.Unlock()
	if ok && fn != nil {
		fn(h)
	}
	return ok
}

// FireDue fires every alert due at or before now, earliest first.
func (c *Channel) FireDue(now time.Time) int {
	n := 0
	for _, a := range c.Alerts() {
		if a.FireAt.After(now) {
			break
		}
		if c.Fire(a.Handle) {
			n++
		}
	}
	return n
}

// Drop forgets h without firing, the way a platform queue reset would.
func (c *Channel) Drop(h reminder.Handle) {
	c.mu.Lock()
	delete(c.pending, h)
	c.mu.Unlock()
}

// Inject adds a handle the registry never asked for.
func (c *Channel) Inject(h reminder.Handle, fireAt time.Time) {
	c.mu.Lock()
	c.pending[h] = delivery.Alert{Handle: h, FireAt: fireAt}
	c.mu.Unlock()
}

func (c *Channel) Has(h reminder.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[h]
	return ok
}

func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Alerts returns pending alerts ordered by fire time.
func (c *Channel) Alerts() []delivery.Alert {
	c.mu.Lock()
	out := make([]delivery.Alert, 0, len(c.pending))
	for _, a := range c.pending {
		out = append(out, a)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// Counts returns how many Schedule and successful Cancel calls were made.
func (c *Channel) Counts() (scheduled, cancelled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled, c.cancelled
}

// SetReject makes Schedule fail with err until reset with nil.
func (c *Channel) SetReject(err error) {
	c.mu.Lock()
	c.reject = err
	c.mu.Unlock()
}

// SetDelay makes Schedule block for d before answering.
func (c *Channel) SetDelay(d time.Duration) {
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}
