// Package scheduler owns the delivery channel.
//
// It is the only component that calls into a delivery.Channel: the registry
// schedules and cancels through it, fire callbacks enter the core through it,
// and it runs the periodic reconciliation sweep that repairs drift between the
// registry and the channel (lost alerts, orphaned handles, deferred retries).
package scheduler
