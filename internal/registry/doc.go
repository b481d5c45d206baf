// Package registry is the single source of truth for which reminders exist.
//
// Records are keyed by (entity kind, entity id, offset) and at most one record
// per key is Pending at any time. Every mutation of a key runs under that key's
// lock; different keys never wait on each other. The registry reaches the
// delivery channel only through its Scheduler.
//
// Upsert schedules the replacement before cancelling the record it supersedes,
// so an interruption between the two steps leaves a duplicate alert rather than
// none.
package registry
