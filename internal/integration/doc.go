// Package integration is the entry point the task, event and habit subsystems
// call when their entities change. It turns entity events into registry
// operations and reports per-offset outcomes instead of failing as a whole.
package integration
