package integration

import (
	"time"

	"remindcore/internal/reminder"
)

// Setting is one reminder offset configured on an entity.
type Setting struct {
	Offset  reminder.Offset `json:"offset" yaml:"offset"`
	Enabled bool            `json:"enabled" yaml:"enabled"`
}

// Entity is the view of a task, event or habit the facade needs.
type Entity struct {
	Kind  reminder.EntityKind
	ID    string
	Title string
	Body  string
	// Anchor is the deadline, start time, or (habits) the first due occurrence.
	Anchor     time.Time
	Recurrence reminder.Recurrence
	// RemindersEnabled is the entity-level switch; false cancels every reminder.
	RemindersEnabled bool
	Reminders        []Setting
}

func (e Entity) Ref() reminder.EntityRef {
	return reminder.EntityRef{Kind: e.Kind, ID: e.ID}
}

// enabledOffsets returns the distinct enabled offsets in configured order.
func (e Entity) enabledOffsets() []reminder.Offset {
	seen := map[reminder.Offset]bool{}
	var out []reminder.Offset
	for _, s := range e.Reminders {
		if !s.Enabled || seen[s.Offset] {
			continue
		}
		seen[s.Offset] = true
		out = append(out, s.Offset)
	}
	return out
}

// content renders the alert text captured at scheduling time.
func (e Entity) content(off reminder.Offset) reminder.Content {
	var lead string
	switch e.Kind {
	case reminder.KindEvent:
		lead = "Starts in " + off.Label()
	case reminder.KindHabit:
		lead = "Coming up in " + off.Label()
	default:
		lead = "Due in " + off.Label()
	}
	body := lead
	if e.Body != "" {
		body = lead + "\n" + e.Body
	}
	return reminder.Content{Title: e.Title, Body: body}
}
