package registry

import (
	"context"
	"errors"
	"sort"

	"remindcore/internal/eventbus"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

// ListFunc returns the handles the delivery channel still holds.
type ListFunc func(ctx context.Context) ([]reminder.Handle, error)

// Reconcile compares the live set with what the channel still holds.
//
// Pending records the channel no longer has become Expired, after a one-sweep
// grace period when their instant has already passed. Recurring ones, and
// one-shots whose instant is still ahead, are queued in the retry set. Records
// created while the listing was in flight are left alone, as are keys locked
// by an in-progress mutation. Unknown channel handles are reported as orphans
// once they have been seen on two consecutive sweeps.
func (r *Registry) Reconcile(ctx context.Context, list ListFunc) (Report, error) {
	r.mu.Lock()
	watermark := r.seq
	r.mu.Unlock()

	handles, err := list(ctx)
	if err != nil {
		return Report{}, err
	}
	held := make(map[reminder.Handle]struct{}, len(handles))
	for _, h := range handles {
		held[h] = struct{}{}
	}

	r.mu.Lock()
	keys := make([]reminder.Key, 0, len(r.live))
	for k, rec := range r.live {
		if rec.ID <= watermark {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var rep Report
	due := map[reminder.Key]reminder.Handle{}
	for _, key := range keys {
		unlock, ok := r.locks.tryLock(key)
		if !ok {
			rep.Skipped++
			r.mu.Lock()
			if h, marked := r.dueMissing[key]; marked {
				due[key] = h
			}
			r.mu.Unlock()
			continue
		}
		rep.Checked++
		rec, expired, deferred := r.expireMissingLocked(key, held, watermark, due)
		if expired {
			rep.Expired = append(rep.Expired, rec)
		}
		if deferred {
			rep.Deferred++
		}
		unlock()
	}

	r.mu.Lock()
	r.dueMissing = due
	next := map[reminder.Handle]struct{}{}
	for _, h := range handles {
		if _, known := r.byHandle[h]; known {
			continue
		}
		if _, seen := r.suspects[h]; seen {
			rep.Orphans = append(rep.Orphans, h)
			continue
		}
		next[h] = struct{}{}
	}
	r.suspects = next
	r.mu.Unlock()

	for _, rec := range rep.Expired {
		r.bus.Publish(eventbus.Event{Type: eventbus.ReminderExpired, Data: rec})
	}
	if len(rep.Expired) > 0 || len(rep.Orphans) > 0 || rep.Deferred > 0 {
		r.log.Info("reconciled reminders",
			logx.Int("checked", rep.Checked),
			logx.Int("expired", len(rep.Expired)),
			logx.Int("deferred", rep.Deferred),
			logx.Int("orphans", len(rep.Orphans)),
			logx.Int("skipped", rep.Skipped),
		)
	}
	return rep, nil
}

// expireMissingLocked expires the record for key if the channel lost it. Call with key locked.
//
// A missing record whose instant has passed may have fired with its MarkFired
// still in flight. It is marked in due and only expired if the next sweep
// finds it missing again under the same handle.
func (r *Registry) expireMissingLocked(key reminder.Key, held map[reminder.Handle]struct{}, watermark uint64,
	due map[reminder.Key]reminder.Handle) (closed reminder.ScheduledReminder, expired, deferred bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.live[key]
	if rec == nil || rec.ID > watermark {
		return reminder.ScheduledReminder{}, false, false
	}
	if _, ok := held[rec.Handle]; ok {
		return reminder.ScheduledReminder{}, false, false
	}
	now := r.now()
	if !rec.FireAt.After(now) && r.dueMissing[key] != rec.Handle {
		due[key] = rec.Handle
		return reminder.ScheduledReminder{}, false, true
	}
	closed = r.closeLocked(rec, reminder.StateExpired, "missing from delivery channel", now)
	delete(r.gens, key)
	if closed.Recurring() || closed.FireAt.After(now) {
		if _, queued := r.retry[key]; !queued {
			r.retry[key] = &retryEntry{cfg: closed.Source, since: now, lastErr: "missing from delivery channel"}
		}
	}
	return closed, true, false
}

// Retry re-attempts every config in the retry set.
func (r *Registry) Retry(ctx context.Context) RetryReport {
	r.mu.Lock()
	keys := make([]reminder.Key, 0, len(r.retry))
	for k := range r.retry {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var rep RetryReport
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		unlock, ok := r.locks.tryLock(key)
		if !ok {
			rep.Skipped++
			continue
		}
		r.mu.Lock()
		e := r.retry[key]
		var cfg reminder.Config
		if e != nil {
			cfg = e.cfg
		}
		r.mu.Unlock()
		if e == nil {
			unlock()
			continue
		}

		_, err := r.upsertLocked(ctx, cfg, r.now())
		switch {
		case err == nil:
			rep.Scheduled++
		case errors.Is(err, reminder.ErrDeliveryRejected):
			rep.Failed++
		default:
			r.mu.Lock()
			delete(r.retry, key)
			r.mu.Unlock()
			rep.Dropped++
		}
		unlock()
	}
	return rep
}
