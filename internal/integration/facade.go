package integration

import (
	"context"

	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

// Registry is the subset of *registry.Registry the facade drives.
type Registry interface {
	Upsert(ctx context.Context, cfg reminder.Config) (reminder.ScheduledReminder, error)
	CancelAll(ctx context.Context, ref reminder.EntityRef) int
	CancelExcept(ctx context.Context, ref reminder.EntityRef, keep []reminder.Offset) int
}

type Facade struct {
	reg Registry
	log logx.Logger
}

func New(reg Registry, log logx.Logger) *Facade {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Facade{reg: reg, log: log}
}

// OnEntityCreatedOrUpdated schedules one reminder per enabled offset and cancels
// reminders for offsets the entity no longer has. A disabled entity loses all
// of its reminders.
func (f *Facade) OnEntityCreatedOrUpdated(ctx context.Context, e Entity) Summary {
	sum := Summary{Entity: e.Ref()}
	offsets := e.enabledOffsets()
	if !e.RemindersEnabled || len(offsets) == 0 {
		sum.Cancelled = f.reg.CancelAll(ctx, sum.Entity)
		f.log.Debug("entity reminders disabled", logx.String("entity", sum.Entity.String()), logx.Int("cancelled", sum.Cancelled))
		return sum
	}

	rec := e.Recurrence
	if e.Kind != reminder.KindHabit {
		rec = reminder.NoRecurrence()
	}
	for _, off := range offsets {
		out := Outcome{Offset: off}
		cfg, err := reminder.NewConfig(e.Kind, e.ID, e.Anchor, off, rec, e.content(off))
		if err == nil {
			var sr reminder.ScheduledReminder
			if sr, err = f.reg.Upsert(ctx, cfg); err == nil {
				out.Reminder = &sr
			}
		}
		out.Err = err
		out.Status = classify(err)
		sum.Outcomes = append(sum.Outcomes, out)
	}
	sum.Cancelled = f.reg.CancelExcept(ctx, sum.Entity, offsets)

	if err := sum.Err(); err != nil {
		f.log.Warn("entity reminders partially scheduled",
			logx.String("entity", sum.Entity.String()),
			logx.Int("scheduled", sum.Scheduled()),
			logx.Int("offsets", len(offsets)),
			logx.Err(err),
		)
	} else {
		f.log.Debug("entity reminders scheduled", logx.String("entity", sum.Entity.String()), logx.Int("scheduled", sum.Scheduled()))
	}
	return sum
}

// OnEntityDeleted cancels every reminder of the entity.
func (f *Facade) OnEntityDeleted(ctx context.Context, kind reminder.EntityKind, id string) int {
	ref := reminder.EntityRef{Kind: kind, ID: id}
	n := f.reg.CancelAll(ctx, ref)
	f.log.Debug("entity deleted", logx.String("entity", ref.String()), logx.Int("cancelled", n))
	return n
}

// OnEntityCompleted is deletion for scheduling purposes. Fired history is kept.
func (f *Facade) OnEntityCompleted(ctx context.Context, kind reminder.EntityKind, id string) int {
	ref := reminder.EntityRef{Kind: kind, ID: id}
	n := f.reg.CancelAll(ctx, ref)
	f.log.Debug("entity completed", logx.String("entity", ref.String()), logx.Int("cancelled", n))
	return n
}

// Sync applies OnEntityCreatedOrUpdated to each entity in order.
func (f *Facade) Sync(ctx context.Context, entities []Entity) []Summary {
	out := make([]Summary, 0, len(entities))
	for _, e := range entities {
		if ctx.Err() != nil {
			break
		}
		out = append(out, f.OnEntityCreatedOrUpdated(ctx, e))
	}
	return out
}
