// Package storage persists the reminder registry's live set for the host.
//
// The registry itself is in-memory. The host saves registry.State snapshots
// here and restores them on start, followed by a reconciliation sweep.
// Closed reminders are appended to a history log for later inspection.
//
// Drivers:
//   - "file": JSON snapshot (atomic rename) + JSON Lines history
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via github.com/lib/pq
package storage
