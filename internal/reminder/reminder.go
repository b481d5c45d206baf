package reminder

import (
	"fmt"
	"time"
)

// Handle is the opaque identifier a delivery channel assigns to an accepted alert.
type Handle string

type State int

const (
	StatePending State = iota
	StateFired
	StateCancelled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool { return s != StatePending }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = StatePending
	case "fired":
		*s = StateFired
	case "cancelled":
		*s = StateCancelled
	case "expired":
		*s = StateExpired
	default:
		return fmt.Errorf("unknown reminder state %q", string(b))
	}
	return nil
}

// ScheduledReminder is the registry's record of one alert handed to the delivery channel.
//
// Source is a copy of the config that produced it; the registry never looks at
// the owning entity again after scheduling.
type ScheduledReminder struct {
	ID          uint64    `json:"id"`
	Handle      Handle    `json:"handle"`
	Key         Key       `json:"key"`
	FireAt      time.Time `json:"fire_at"`
	Content     Content   `json:"content"`
	State       State     `json:"state"`
	Source      Config    `json:"source"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ClosedAt    time.Time `json:"closed_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Recurring reports whether firing this reminder should schedule a successor.
func (r ScheduledReminder) Recurring() bool { return r.Source.Recurrence.IsRecurring() }
