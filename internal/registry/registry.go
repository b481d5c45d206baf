package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"remindcore/internal/eventbus"
	"remindcore/internal/reminder"
	"remindcore/internal/timeres"
	logx "remindcore/pkg/logx"
)

const (
	earlyFiredMax = 256
	earlyFiredTTL = 10 * time.Minute
)

type Registry struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	sched Scheduler
	now   func() time.Time

	locks keyLocks

	mu       sync.Mutex
	live     map[reminder.Key]*reminder.ScheduledReminder
	byHandle map[reminder.Handle]reminder.Key
	gens     map[reminder.Key]uint64
	retry    map[reminder.Key]*retryEntry
	seq      uint64
	hist     history

	// Fire callbacks that raced ahead of the record they belong to.
	earlyFired map[reminder.Handle]time.Time
	// Unknown channel handles seen on the previous sweep.
	suspects map[reminder.Handle]struct{}
	// dueMissing holds due records a sweep found missing, awaiting a late MarkFired.
	dueMissing map[reminder.Key]reminder.Handle
}

type Option func(*Registry)

// WithClock overrides time.Now. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cfg Config, sched Scheduler, log logx.Logger, bus eventbus.Bus, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.RetryLimit == 0 {
		cfg.RetryLimit = 10
	}
	r := &Registry{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		sched:      sched,
		now:        time.Now,
		live:       map[reminder.Key]*reminder.ScheduledReminder{},
		byHandle:   map[reminder.Handle]reminder.Key{},
		gens:       map[reminder.Key]uint64{},
		retry:      map[reminder.Key]*retryEntry{},
		hist:       newHistory(cfg.HistorySize),
		earlyFired: map[reminder.Handle]time.Time{},
		suspects:   map[reminder.Handle]struct{}{},
		dueMissing: map[reminder.Key]reminder.Handle{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Upsert makes cfg the one Pending reminder for its key.
//
// It returns reminder.ErrNoValidOccurrence if cfg resolves to no future instant
// (any previous Pending record for the key is cancelled), ErrDisabled for
// disabled configs, and an error wrapping reminder.ErrDeliveryRejected when the
// channel refuses; in that last case the previous record stays live and cfg is
// queued for the next reconciliation sweep.
func (r *Registry) Upsert(ctx context.Context, cfg reminder.Config) (reminder.ScheduledReminder, error) {
	if err := cfg.Validate(); err != nil {
		return reminder.ScheduledReminder{}, err
	}
	key := cfg.Key()
	unlock := r.locks.lock(key)
	defer unlock()
	return r.upsertLocked(ctx, cfg, r.now())
}

// upsertLocked resolves cfg against after and swaps the live record. Call with key locked.
func (r *Registry) upsertLocked(ctx context.Context, cfg reminder.Config, after time.Time) (reminder.ScheduledReminder, error) {
	key := cfg.Key()
	if !cfg.Enabled {
		r.cancelLocked(ctx, key, "disabled")
		return reminder.ScheduledReminder{}, ErrDisabled
	}

	fire, err := timeres.Resolve(cfg, after)
	if err != nil {
		// The previous record reflects an anchor the entity no longer has.
		r.cancelLocked(ctx, key, "no valid occurrence")
		r.log.Debug("no valid occurrence", logx.String("key", key.String()), logx.Err(err))
		return reminder.ScheduledReminder{}, err
	}

	r.mu.Lock()
	old := r.live[key]
	if old != nil && sameSchedule(old, cfg, fire) {
		delete(r.retry, key)
		cur := *old
		r.mu.Unlock()
		return cur, nil
	}
	r.mu.Unlock()

	h, err := r.sched.Schedule(ctx, fire, cfg.Content)
	if err == nil {
		r.mu.Lock()
		_, dup := r.byHandle[h]
		r.mu.Unlock()
		if dup {
			r.log.Error("delivery channel reused a live handle", logx.String("handle", string(h)), logx.String("key", key.String()))
			err = fmt.Errorf("%w: handle %s reused", reminder.ErrDeliveryRejected, h)
		}
	}
	if err != nil {
		if !errors.Is(err, reminder.ErrDeliveryRejected) {
			err = fmt.Errorf("%w: %v", reminder.ErrDeliveryRejected, err)
		}
		r.noteRetry(key, cfg, err)
		r.bus.Publish(eventbus.Event{Type: eventbus.ReminderRejected, Data: key})
		return reminder.ScheduledReminder{}, err
	}

	now := r.now()
	rec := &reminder.ScheduledReminder{
		Handle:      h,
		Key:         key,
		FireAt:      fire,
		Content:     cfg.Content,
		State:       reminder.StatePending,
		Source:      cfg,
		ScheduledAt: now,
	}

	var superseded reminder.ScheduledReminder
	r.mu.Lock()
	r.seq++
	rec.ID = r.seq
	r.live[key] = rec
	r.byHandle[h] = key
	r.seq++
	r.gens[key] = r.seq
	delete(r.retry, key)
	if old != nil {
		delete(r.byHandle, old.Handle)
		superseded = r.closeLocked(old, reminder.StateCancelled, "superseded", now)
	}
	_, firedEarly := r.earlyFired[h]
	delete(r.earlyFired, h)
	out := *rec
	r.mu.Unlock()

	r.log.Debug("reminder scheduled",
		logx.String("key", key.String()),
		logx.String("handle", string(h)),
		logx.Time("fire_at", fire),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.ReminderScheduled, Data: out})

	if old != nil {
		r.sched.Cancel(ctx, old.Handle)
		r.bus.Publish(eventbus.Event{Type: eventbus.ReminderCancelled, Data: superseded})
	}
	if firedEarly {
		// The channel fired before we recorded the handle.
		if fired, ok := r.fireLocked(key, h); ok {
			r.bus.Publish(eventbus.Event{Type: eventbus.ReminderFired, Data: fired})
			if !fired.Recurring() {
				return fired, nil
			}
			next := r.now()
			if fired.FireAt.After(next) {
				next = fired.FireAt
			}
			return r.upsertLocked(ctx, cfg, next)
		}
	}
	return out, nil
}

func sameSchedule(old *reminder.ScheduledReminder, cfg reminder.Config, fire time.Time) bool {
	return old.FireAt.Equal(fire) &&
		old.Content == cfg.Content &&
		old.Source.Recurrence == cfg.Recurrence &&
		old.Source.Anchor.Equal(cfg.Anchor)
}

// closeLocked moves rec out of the live set into history. Call with r.mu held.
func (r *Registry) closeLocked(rec *reminder.ScheduledReminder, st reminder.State, reason string, at time.Time) reminder.ScheduledReminder {
	rec.State = st
	rec.Reason = reason
	rec.ClosedAt = at
	if cur, ok := r.live[rec.Key]; ok && cur == rec {
		delete(r.live, rec.Key)
	}
	delete(r.byHandle, rec.Handle)
	r.hist.add(*rec)
	return *rec
}

// Cancel cancels the Pending reminder for key, if any. It reports whether one existed.
func (r *Registry) Cancel(ctx context.Context, key reminder.Key) bool {
	unlock := r.locks.lock(key)
	defer unlock()
	return r.cancelLocked(ctx, key, "cancelled")
}

// cancelLocked cancels the live record for key and forgets its retry entry.
// Call with key locked.
func (r *Registry) cancelLocked(ctx context.Context, key reminder.Key, reason string) bool {
	r.mu.Lock()
	delete(r.retry, key)
	delete(r.gens, key)
	rec := r.live[key]
	if rec == nil {
		r.mu.Unlock()
		return false
	}
	closed := r.closeLocked(rec, reminder.StateCancelled, reason, r.now())
	r.mu.Unlock()

	r.sched.Cancel(ctx, closed.Handle)
	r.log.Debug("reminder cancelled", logx.String("key", key.String()), logx.String("handle", string(closed.Handle)), logx.String("reason", reason))
	r.bus.Publish(eventbus.Event{Type: eventbus.ReminderCancelled, Data: closed})
	return true
}

// CancelAll cancels every reminder of the entity. It returns how many Pending
// reminders were cancelled.
func (r *Registry) CancelAll(ctx context.Context, ref reminder.EntityRef) int {
	return r.cancelMatching(ctx, ref, func(reminder.Offset) bool { return true }, "entity removed")
}

// CancelExcept cancels the entity's reminders whose offset is not in keep.
func (r *Registry) CancelExcept(ctx context.Context, ref reminder.EntityRef, keep []reminder.Offset) int {
	return r.cancelMatching(ctx, ref, func(o reminder.Offset) bool {
		for _, k := range keep {
			if k == o {
				return false
			}
		}
		return true
	}, "offset removed")
}

func (r *Registry) cancelMatching(ctx context.Context, ref reminder.EntityRef, match func(reminder.Offset) bool, reason string) int {
	n := 0
	for _, key := range r.keysFor(ref) {
		if !match(key.Offset) {
			continue
		}
		unlock := r.locks.lock(key)
		if r.cancelLocked(ctx, key, reason) {
			n++
		}
		unlock()
	}
	return n
}

// keysFor collects every key of ref that has live, retry or generation state.
func (r *Registry) keysFor(ref reminder.EntityRef) []reminder.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[reminder.Key]struct{}{}
	add := func(k reminder.Key) {
		if k.Kind == ref.Kind && k.EntityID == ref.ID {
			seen[k] = struct{}{}
		}
	}
	for k := range r.live {
		add(k)
	}
	for k := range r.retry {
		add(k)
	}
	for k := range r.gens {
		add(k)
	}
	keys := make([]reminder.Key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// MarkFired transitions the record for h to Fired. Unknown handles are a no-op
// (the reminder was cancelled or superseded before the channel fired it).
// gen identifies the key state right after the fire; pass it to Advance.
func (r *Registry) MarkFired(ctx context.Context, h reminder.Handle) (rec reminder.ScheduledReminder, gen uint64, ok bool) {
	_ = ctx
	r.mu.Lock()
	key, known := r.byHandle[h]
	if !known {
		r.noteEarlyFireLocked(h)
		r.mu.Unlock()
		r.log.Debug("fire for unknown handle ignored", logx.String("handle", string(h)))
		return reminder.ScheduledReminder{}, 0, false
	}
	r.mu.Unlock()

	unlock := r.locks.lock(key)
	defer unlock()
	rec, ok = r.fireLocked(key, h)
	if !ok {
		return reminder.ScheduledReminder{}, 0, false
	}
	r.mu.Lock()
	gen = r.gens[key]
	r.mu.Unlock()
	r.log.Debug("reminder fired", logx.String("key", key.String()), logx.String("handle", string(h)))
	r.bus.Publish(eventbus.Event{Type: eventbus.ReminderFired, Data: rec})
	return rec, gen, true
}

// fireLocked closes the live record for key as Fired if it still carries h.
// Call with key locked.
func (r *Registry) fireLocked(key reminder.Key, h reminder.Handle) (reminder.ScheduledReminder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.live[key]
	if cur == nil || cur.Handle != h {
		return reminder.ScheduledReminder{}, false
	}
	rec := r.closeLocked(cur, reminder.StateFired, "", r.now())
	if rec.Recurring() {
		r.seq++
		r.gens[key] = r.seq
	} else {
		delete(r.gens, key)
	}
	return rec, true
}

func (r *Registry) noteEarlyFireLocked(h reminder.Handle) {
	now := r.now()
	for k, at := range r.earlyFired {
		if now.Sub(at) > earlyFiredTTL {
			delete(r.earlyFired, k)
		}
	}
	if len(r.earlyFired) >= earlyFiredMax {
		return
	}
	r.earlyFired[h] = now
}

// Advance schedules the next occurrence after a recurring reminder fired.
// It returns ErrSuperseded if the key changed since MarkFired returned gen.
func (r *Registry) Advance(ctx context.Context, fired reminder.ScheduledReminder, gen uint64) (reminder.ScheduledReminder, error) {
	if !fired.Recurring() {
		return reminder.ScheduledReminder{}, fmt.Errorf("%w: %s is not recurring", reminder.ErrNoValidOccurrence, fired.Key)
	}
	unlock := r.locks.lock(fired.Key)
	defer unlock()

	r.mu.Lock()
	cur, ok := r.gens[fired.Key]
	r.mu.Unlock()
	if !ok || cur != gen {
		return reminder.ScheduledReminder{}, ErrSuperseded
	}
	after := r.now()
	if fired.FireAt.After(after) {
		after = fired.FireAt
	}
	return r.upsertLocked(ctx, fired.Source, after)
}

// MarkExpired transitions the record for h to Expired without scheduling a successor.
func (r *Registry) MarkExpired(ctx context.Context, h reminder.Handle) bool {
	_ = ctx
	r.mu.Lock()
	key, known := r.byHandle[h]
	r.mu.Unlock()
	if !known {
		return false
	}
	unlock := r.locks.lock(key)
	defer unlock()

	r.mu.Lock()
	cur := r.live[key]
	if cur == nil || cur.Handle != h {
		r.mu.Unlock()
		return false
	}
	rec := r.closeLocked(cur, reminder.StateExpired, "expired", r.now())
	delete(r.gens, key)
	r.mu.Unlock()
	r.bus.Publish(eventbus.Event{Type: eventbus.ReminderExpired, Data: rec})
	return true
}

func (r *Registry) noteRetry(key reminder.Key, cfg reminder.Config, cause error) {
	r.mu.Lock()
	e := r.retry[key]
	if e == nil {
		e = &retryEntry{since: r.now()}
		r.retry[key] = e
	}
	e.cfg = cfg
	e.attempts++
	e.lastErr = cause.Error()
	attempts := e.attempts
	giveUp := r.cfg.RetryLimit > 0 && attempts >= r.cfg.RetryLimit
	if giveUp {
		delete(r.retry, key)
	}
	r.mu.Unlock()

	if giveUp {
		r.log.Warn("giving up on reminder after repeated rejections",
			logx.String("key", key.String()), logx.Int("attempts", attempts), logx.Err(cause))
		return
	}
	r.log.Debug("reminder queued for retry", logx.String("key", key.String()), logx.Int("attempts", attempts), logx.Err(cause))
}
