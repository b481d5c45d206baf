package registry

import (
	"sort"

	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

// Snapshot returns the live set and retry set for persistence.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{Live: make([]reminder.ScheduledReminder, 0, len(r.live))}
	for _, rec := range r.live {
		st.Live = append(st.Live, *rec)
	}
	sortByKey(st.Live)
	for _, e := range r.retry {
		st.Retry = append(st.Retry, e.cfg)
	}
	sort.Slice(st.Retry, func(i, j int) bool { return st.Retry[i].Key().String() < st.Retry[j].Key().String() })
	return st
}

// Restore loads a persisted state into an empty registry. Records that are not
// Pending, or that collide with a key or handle already present, are skipped.
// Run a reconciliation afterwards: the channel may have lost handles meanwhile.
func (r *Registry) Restore(st State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range st.Live {
		if rec.State != reminder.StatePending || rec.Handle == "" {
			continue
		}
		if _, dup := r.live[rec.Key]; dup {
			continue
		}
		if _, dup := r.byHandle[rec.Handle]; dup {
			continue
		}
		if err := rec.Source.Validate(); err != nil {
			r.log.Warn("skipping invalid persisted reminder", logx.String("key", rec.Key.String()), logx.Err(err))
			continue
		}
		cp := rec
		if cp.ID > r.seq {
			r.seq = cp.ID
		}
		r.live[cp.Key] = &cp
		r.byHandle[cp.Handle] = cp.Key
		n++
	}
	for _, rec := range r.live {
		r.seq++
		r.gens[rec.Key] = r.seq
	}
	for _, cfg := range st.Retry {
		if cfg.Validate() != nil {
			continue
		}
		if _, ok := r.retry[cfg.Key()]; !ok {
			r.retry[cfg.Key()] = &retryEntry{cfg: cfg, since: r.now(), lastErr: "restored"}
		}
	}
	return n
}

// Live returns the Pending reminders ordered by key.
func (r *Registry) Live() []reminder.ScheduledReminder {
	return r.Snapshot().Live
}

// LiveFor returns the entity's Pending reminders.
func (r *Registry) LiveFor(ref reminder.EntityRef) []reminder.ScheduledReminder {
	r.mu.Lock()
	var out []reminder.ScheduledReminder
	for k, rec := range r.live {
		if k.Entity() == ref {
			out = append(out, *rec)
		}
	}
	r.mu.Unlock()
	sortByKey(out)
	return out
}

// Get returns the Pending reminder for key.
func (r *Registry) Get(key reminder.Key) (reminder.ScheduledReminder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.live[key]
	if rec == nil {
		return reminder.ScheduledReminder{}, false
	}
	return *rec, true
}

// History returns recently closed reminders, oldest first.
func (r *Registry) History() []reminder.ScheduledReminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hist.list()
}

// RetryItems lists the retry set.
func (r *Registry) RetryItems() []RetryItem {
	r.mu.Lock()
	out := make([]RetryItem, 0, len(r.retry))
	for k, e := range r.retry {
		out = append(out, RetryItem{Key: k, Attempts: e.attempts, LastErr: e.lastErr, Since: e.since})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func (r *Registry) Stats() Stats {
	locked := r.locks.held()
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Live:        len(r.live),
		Retry:       len(r.retry),
		History:     r.hist.len(),
		LockedKeys:  locked,
		EarlyFired:  len(r.earlyFired),
		OrphanWatch: len(r.suspects),
	}
}

func sortByKey(rs []reminder.ScheduledReminder) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Key.String() < rs[j].Key.String() })
}
