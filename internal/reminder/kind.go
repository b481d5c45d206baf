package reminder

import (
	"fmt"
	"strings"
)

// EntityKind identifies which subsystem owns the entity a reminder belongs to.
type EntityKind int

const (
	KindTask EntityKind = iota + 1
	KindEvent
	KindHabit
)

func (k EntityKind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindEvent:
		return "event"
	case KindHabit:
		return "habit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k EntityKind) Valid() bool { return k >= KindTask && k <= KindHabit }

// ParseEntityKind accepts "task", "event" or "habit" (case-insensitive).
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "task":
		return KindTask, nil
	case "event":
		return KindEvent, nil
	case "habit":
		return KindHabit, nil
	default:
		return 0, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidConfig, s)
	}
}

func (k EntityKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *EntityKind) UnmarshalText(b []byte) error {
	v, err := ParseEntityKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
