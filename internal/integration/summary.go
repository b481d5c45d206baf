package integration

import (
	"errors"
	"fmt"

	"remindcore/internal/registry"
	"remindcore/internal/reminder"
)

type Status int

const (
	StatusScheduled Status = iota
	// StatusNoOccurrence: the fire instant is not in the future. Not a fault.
	StatusNoOccurrence
	// StatusRejected: the channel refused; retried on the next sweep.
	StatusRejected
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusNoOccurrence:
		return "no_occurrence"
	case StatusRejected:
		return "rejected"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusScheduled, StatusNoOccurrence, StatusRejected, StatusInvalid} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// Outcome is the result for one configured offset. Reminder is set only when
// Status is StatusScheduled.
type Outcome struct {
	Offset   reminder.Offset             `json:"offset"`
	Status   Status                      `json:"status"`
	Reminder *reminder.ScheduledReminder `json:"reminder,omitempty"`
	Err      error                       `json:"-"`
}

// Summary is the partial-success report for one entity event.
type Summary struct {
	Entity    reminder.EntityRef `json:"entity"`
	Outcomes  []Outcome          `json:"outcomes,omitempty"`
	Cancelled int                `json:"cancelled"`
}

func classify(err error) Status {
	switch {
	case err == nil:
		return StatusScheduled
	case errors.Is(err, reminder.ErrNoValidOccurrence):
		return StatusNoOccurrence
	case errors.Is(err, reminder.ErrDeliveryRejected):
		return StatusRejected
	case errors.Is(err, registry.ErrDisabled):
		return StatusNoOccurrence
	default:
		return StatusInvalid
	}
}

// Scheduled counts offsets that now have a Pending reminder.
func (s Summary) Scheduled() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == StatusScheduled {
			n++
		}
	}
	return n
}

// Err joins every per-offset failure, or returns nil if all offsets were scheduled.
func (s Summary) Err() error {
	var errs []error
	for _, o := range s.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", s.Entity, o.Offset, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Warnings lists recoverable failures worth surfacing to the user.
func (s Summary) Warnings() []string {
	var out []string
	for _, o := range s.Outcomes {
		switch o.Status {
		case StatusRejected:
			out = append(out, fmt.Sprintf("reminder %s before %q could not be scheduled yet; will retry", o.Offset.Label(), s.Entity.ID))
		case StatusNoOccurrence:
			out = append(out, fmt.Sprintf("reminder %s before %q is already in the past", o.Offset.Label(), s.Entity.ID))
		}
	}
	return out
}
