package timeres

import (
	"fmt"
	"time"

	"remindcore/internal/reminder"
)

// maxScan bounds the occurrence walk. With offsets capped at reminder.MaxOffset
// and the cursor jump in Next, real configs resolve in a handful of steps.
const maxScan = 1024

// Occurrence is one resolved reminder instant together with the anchor it belongs to.
type Occurrence struct {
	Anchor time.Time
	FireAt time.Time
}

// Resolve returns the fire instant for cfg that is strictly after now.
// It fails with reminder.ErrNoValidOccurrence when there is none.
func Resolve(cfg reminder.Config, now time.Time) (time.Time, error) {
	occ, err := Next(cfg, now)
	if err != nil {
		return time.Time{}, err
	}
	return occ.FireAt, nil
}

// Next is Resolve but also reports the anchor occurrence.
func Next(cfg reminder.Config, now time.Time) (Occurrence, error) {
	if !cfg.Recurrence.IsRecurring() {
		fire := cfg.Offset.Before(cfg.Anchor)
		if !fire.After(now) {
			return Occurrence{}, fmt.Errorf("%w: %s fires at %s, not after %s",
				reminder.ErrNoValidOccurrence, cfg.Key(), fire.Format(time.RFC3339), now.Format(time.RFC3339))
		}
		return Occurrence{Anchor: cfg.Anchor, FireAt: fire}, nil
	}

	// Anchors that can satisfy fire > now lie after now+offset. Jump the cursor
	// close to that point; the 48h slack covers DST shifts in calendar-day offsets.
	from := now.Add(cfg.Offset.Approx() - 48*time.Hour)
	it, err := Occurrences(cfg, from)
	if err != nil {
		return Occurrence{}, err
	}
	for i := 0; i < maxScan; i++ {
		a := it.Next()
		if a.IsZero() {
			break
		}
		fire := cfg.Offset.Before(a)
		if fire.After(now) {
			return Occurrence{Anchor: a, FireAt: fire}, nil
		}
	}
	return Occurrence{}, fmt.Errorf("%w: %s (%s) has no occurrence after %s",
		reminder.ErrNoValidOccurrence, cfg.Key(), cfg.Recurrence, now.Format(time.RFC3339))
}

// Preview lists the next n fire instants for cfg after now. Used for diagnostics.
func Preview(cfg reminder.Config, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	cur := now
	for len(out) < n {
		occ, err := Next(cfg, cur)
		if err != nil {
			break
		}
		out = append(out, occ.FireAt)
		if !cfg.Recurrence.IsRecurring() {
			break
		}
		cur = occ.FireAt
	}
	return out
}

// Iterator walks the anchor occurrences of a recurring config in order, one
// per matching calendar date in the anchor's location.
// It is cheap to create; build a new one instead of rewinding.
type Iterator struct {
	rec    reminder.Recurrence
	anchor time.Time
	from   time.Time
	loc    *time.Location

	hour, minute, sec, nsec int

	// day is the next civil date to try, held as UTC midnight.
	day       time.Time
	anchorDay time.Time
}

// Occurrences returns an iterator over the anchor occurrences of cfg that are
// not before cfg.Anchor and strictly after from.
func Occurrences(cfg reminder.Config, from time.Time) (*Iterator, error) {
	if !cfg.Recurrence.IsRecurring() {
		return nil, fmt.Errorf("%w: %s is not recurring", reminder.ErrInvalidConfig, cfg.Key())
	}
	if cfg.Recurrence.Kind == reminder.RecurWeekly && len(cfg.Recurrence.Days()) == 0 {
		return nil, fmt.Errorf("%w: weekly recurrence needs at least one weekday", reminder.ErrInvalidConfig)
	}
	loc := cfg.Anchor.Location()
	wall := cfg.Anchor.In(loc)
	start := wall
	if from.After(cfg.Anchor) {
		start = from.In(loc)
	}
	// Begin a day early: a gap can push an occurrence past midnight.
	y, m, d := start.Date()
	ay, am, ad := wall.Date()
	it := &Iterator{
		rec:       cfg.Recurrence,
		anchor:    cfg.Anchor,
		from:      from,
		loc:       loc,
		nsec:      wall.Nanosecond(),
		day:       time.Date(y, m, d-1, 0, 0, 0, 0, time.UTC),
		anchorDay: time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC),
	}
	it.hour, it.minute, it.sec = wall.Clock()
	return it, nil
}

// Next returns the following anchor occurrence, or the zero time if the rule has none.
func (it *Iterator) Next() time.Time {
	// A weekly rule matches at least once in any 7 consecutive dates; the
	// extra slack covers the day-early start.
	for i := 0; i < 10; i++ {
		day := it.day
		it.day = day.AddDate(0, 0, 1)
		if it.rec.Kind == reminder.RecurWeekly && !it.rec.Has(day.Weekday()) {
			continue
		}
		a := it.anchor
		if !day.Equal(it.anchorDay) {
			a = wallTime(day, it.hour, it.minute, it.sec, it.nsec, it.loc)
		}
		if a.Before(it.anchor) || !a.After(it.from) {
			continue
		}
		return a
	}
	return time.Time{}
}

// wallTime is the instant at the given wall clock on civil date day in loc.
// A wall clock that falls in a spring-forward gap moves forward by the gap
// length (02:30 becomes 03:30). An ambiguous wall clock resolves to a single
// instant, so each date yields exactly one occurrence.
func wallTime(day time.Time, hour, minute, sec, nsec int, loc *time.Location) time.Time {
	y, m, d := day.Date()
	t := time.Date(y, m, d, hour, minute, sec, nsec, loc)
	if h, mm, s := t.Clock(); h == hour && mm == minute && s == sec {
		return t
	}
	naive := time.Date(y, m, d, hour, minute, sec, nsec, time.UTC)
	_, off := naive.AddDate(0, 0, -1).In(loc).Zone()
	return naive.Add(-time.Duration(off) * time.Second).In(loc)
}
