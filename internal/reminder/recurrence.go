package reminder

import (
	"fmt"
	"strings"
	"time"
)

type RecurrenceKind int

const (
	RecurNone RecurrenceKind = iota
	RecurDaily
	RecurWeekly
)

// Recurrence is one of NoRecurrence, Daily or WeeklyOn(days...).
// Weekdays is a bit set indexed by time.Weekday (Sunday = bit 0).
type Recurrence struct {
	Kind     RecurrenceKind
	Weekdays uint8
}

func NoRecurrence() Recurrence { return Recurrence{Kind: RecurNone} }

func Daily() Recurrence { return Recurrence{Kind: RecurDaily} }

func WeeklyOn(days ...time.Weekday) Recurrence {
	r := Recurrence{Kind: RecurWeekly}
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			r.Weekdays |= 1 << uint(d)
		}
	}
	return r
}

func (r Recurrence) IsRecurring() bool { return r.Kind != RecurNone }

// Has reports whether d is part of a weekly rule.
func (r Recurrence) Has(d time.Weekday) bool { return r.Weekdays&(1<<uint(d)) != 0 }

// Days returns the weekdays of a weekly rule in Sunday-first order.
func (r Recurrence) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if r.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurNone, RecurDaily:
		return nil
	case RecurWeekly:
		if r.Weekdays&0x7f == 0 {
			return fmt.Errorf("%w: weekly recurrence needs at least one weekday", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown recurrence kind %d", ErrInvalidConfig, r.Kind)
	}
}

var weekdayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// String renders "none", "daily" or "weekly:mon,wed,fri".
func (r Recurrence) String() string {
	switch r.Kind {
	case RecurNone:
		return "none"
	case RecurDaily:
		return "daily"
	case RecurWeekly:
		names := make([]string, 0, 7)
		for _, d := range r.Days() {
			names = append(names, weekdayNames[d])
		}
		return "weekly:" + strings.Join(names, ",")
	default:
		return fmt.Sprintf("recurrence(%d)", int(r.Kind))
	}
}

// ParseRecurrence is the inverse of String. Empty input means no recurrence.
func ParseRecurrence(raw string) (Recurrence, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "" || s == "none":
		return NoRecurrence(), nil
	case s == "daily":
		return Daily(), nil
	case strings.HasPrefix(s, "weekly:"):
		var days []time.Weekday
		for _, p := range strings.Split(strings.TrimPrefix(s, "weekly:"), ",") {
			p = strings.TrimSpace(p)
			found := false
			for i, n := range weekdayNames {
				if len(p) >= 3 && strings.HasPrefix(p, n) {
					days = append(days, time.Weekday(i))
					found = true
					break
				}
			}
			if !found {
				return Recurrence{}, fmt.Errorf("%w: unknown weekday %q", ErrInvalidConfig, p)
			}
		}
		r := WeeklyOn(days...)
		return r, r.Validate()
	default:
		return Recurrence{}, fmt.Errorf("%w: unknown recurrence %q", ErrInvalidConfig, raw)
	}
}

func (r Recurrence) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Recurrence) UnmarshalText(b []byte) error {
	v, err := ParseRecurrence(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
