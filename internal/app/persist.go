package app

import (
	"context"
	"time"

	"remindcore/internal/eventbus"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

// persistLoop appends closed reminders to history as they happen and saves the
// live set every persistEvery when something changed.
func (a *App) persistLoop(ctx context.Context, events <-chan eventbus.Event) {
	t := time.NewTicker(a.persistEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			a.drain(ctx, events)
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.onEvent(ctx, e)
		case <-t.C:
			if a.dirty.Load() {
				if err := a.persist(ctx); err != nil {
					a.log.Warn("persist failed", logx.Err(err))
				}
			}
		}
	}
}

// drain records events already queued when the loop is cancelled, so a stop
// right after a mutation still lands in history.
func (a *App) drain(ctx context.Context, events <-chan eventbus.Event) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			a.onEvent(c, e)
		default:
			return
		}
	}
}

func (a *App) onEvent(ctx context.Context, e eventbus.Event) {
	switch e.Type {
	case eventbus.ReminderScheduled, eventbus.ReminderRejected:
		a.dirty.Store(true)
	case eventbus.ReminderFired, eventbus.ReminderCancelled, eventbus.ReminderExpired:
		a.dirty.Store(true)
		rec, ok := e.Data.(reminder.ScheduledReminder)
		if !ok {
			return
		}
		if err := a.store.AppendHistory(ctx, rec); err != nil {
			a.log.Warn("history append failed", logx.String("key", rec.Key.String()), logx.Err(err))
		}
	}
}

// persist saves the registry snapshot. The dirty flag is cleared first so
// changes made during the save are picked up by the next tick.
func (a *App) persist(ctx context.Context) error {
	a.dirty.Store(false)
	st := a.reg.Snapshot()
	if err := a.store.SaveState(ctx, st); err != nil {
		a.dirty.Store(true)
		return err
	}
	a.log.Trace("state saved", logx.Int("live", len(st.Live)), logx.Int("retry", len(st.Retry)))
	return nil
}
