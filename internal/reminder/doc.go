// Package reminder holds the value types shared by the reminder core:
// what to remind about (Config), when relative to its entity (Offset,
// Recurrence), and the runtime record the registry keeps for each alert
// handed to the delivery channel (ScheduledReminder).
//
// Nothing in this package talks to the delivery channel or holds locks.
package reminder
