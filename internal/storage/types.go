package storage

import (
	"context"
	"errors"
	"time"

	"remindcore/internal/registry"
	"remindcore/internal/reminder"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	// Path is the snapshot file (file) or database file (sqlite).
	Path string
	// DSN is the connection string (postgres).
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the app.
type Store interface {
	SaveState(ctx context.Context, st registry.State) error
	// LoadState returns ok=false when nothing was saved yet.
	LoadState(ctx context.Context) (st registry.State, ok bool, err error)
	AppendHistory(ctx context.Context, recs ...reminder.ScheduledReminder) error
	// RecentHistory returns up to limit closed reminders, newest first.
	RecentHistory(ctx context.Context, limit int) ([]reminder.ScheduledReminder, error)
	Close() error
}
