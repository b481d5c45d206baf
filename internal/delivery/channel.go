// Package delivery defines the contract the reminder core expects from the
// mechanism that actually holds scheduled alerts and fires them at wall-clock time.
//
// The core treats a Channel as a best-effort, eventually-consistent store of
// handle -> (fire time, content). Only the scheduler package calls into it.
package delivery

import (
	"context"
	"time"

	"remindcore/internal/reminder"
)

// Channel is implemented by platform adapters.
//
// Contract:
//   - Schedule returns a handle that is never reused, or an error wrapping
//     reminder.ErrDeliveryRejected.
//   - Cancel is idempotent; cancelling an unknown or already fired handle is not an error
//     (implementations may return reminder.ErrUnknownHandle, callers ignore it).
//   - ListPending is the authoritative set of handles that have not fired yet.
//   - The callback registered with OnFired runs asynchronously, once per fired handle.
type Channel interface {
	Schedule(ctx context.Context, fireAt time.Time, content reminder.Content) (reminder.Handle, error)
	Cancel(ctx context.Context, h reminder.Handle) error
	ListPending(ctx context.Context) ([]reminder.Handle, error)
	OnFired(fn func(h reminder.Handle))
}

// Alert is what a channel presents when a handle fires.
type Alert struct {
	Handle  reminder.Handle  `json:"handle"`
	FireAt  time.Time        `json:"fire_at"`
	Content reminder.Content `json:"content"`
}
