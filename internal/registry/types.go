package registry

import (
	"context"
	"errors"
	"time"

	"remindcore/internal/reminder"
)

var (
	// ErrDisabled is returned by Upsert for configs with Enabled=false.
	// Any Pending reminder for the key has been cancelled.
	ErrDisabled = errors.New("reminder disabled")

	// ErrSuperseded is returned by Advance when the key changed after the fire
	// (entity edited, deleted or completed); no successor is scheduled.
	ErrSuperseded = errors.New("reminder superseded")
)

// Scheduler is the registry's only path to the delivery channel.
type Scheduler interface {
	Schedule(ctx context.Context, fireAt time.Time, content reminder.Content) (reminder.Handle, error)
	Cancel(ctx context.Context, h reminder.Handle)
}

// Config controls registry bookkeeping.
type Config struct {
	// HistorySize bounds the recent-history log. Default 200.
	HistorySize int
	// RetryLimit is how many failed scheduling attempts a retry-set entry gets
	// before it is dropped. 0 means default (10); negative means unlimited.
	RetryLimit int
}

// Report summarizes one reconciliation sweep.
type Report struct {
	Checked int
	// Expired records were Pending but missing from the channel.
	Expired []reminder.ScheduledReminder
	// Orphans are channel handles unknown to the registry on two consecutive sweeps.
	Orphans []reminder.Handle
	// Skipped counts records left alone because their key was locked by a mutation.
	Skipped int
	// Deferred counts due records missing from the channel for the first time.
	Deferred int
}

// RetryReport summarizes one pass over the retry set.
type RetryReport struct {
	Scheduled int
	Dropped   int
	Failed    int
	Skipped   int
}

// State is the registry's persistable live set.
type State struct {
	Live  []reminder.ScheduledReminder `json:"live"`
	Retry []reminder.Config            `json:"retry,omitempty"`
}

// Stats is a lightweight view for diagnostics.
type Stats struct {
	Live        int `json:"live"`
	Retry       int `json:"retry"`
	History     int `json:"history"`
	LockedKeys  int `json:"locked_keys"`
	EarlyFired  int `json:"early_fired"`
	OrphanWatch int `json:"orphan_watch"`
}

type retryEntry struct {
	cfg      reminder.Config
	attempts int
	lastErr  string
	since    time.Time
}

// RetryItem is a retry-set entry as exposed to diagnostics.
type RetryItem struct {
	Key      reminder.Key `json:"key"`
	Attempts int          `json:"attempts"`
	LastErr  string       `json:"last_err,omitempty"`
	Since    time.Time    `json:"since"`
}
