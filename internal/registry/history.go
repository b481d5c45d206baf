package registry

import "remindcore/internal/reminder"

// history is a bounded ring of reminders that left Pending, kept for diagnostics.
type history struct {
	buf  []reminder.ScheduledReminder
	next int
	full bool
}

func newHistory(size int) history {
	if size <= 0 {
		size = 200
	}
	return history{buf: make([]reminder.ScheduledReminder, size)}
}

func (h *history) add(r reminder.ScheduledReminder) {
	h.buf[h.next] = r
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

func (h *history) len() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// list returns entries oldest first.
func (h *history) list() []reminder.ScheduledReminder {
	out := make([]reminder.ScheduledReminder, 0, h.len())
	if h.full {
		out = append(out, h.buf[h.next:]...)
	}
	return append(out, h.buf[:h.next]...)
}
