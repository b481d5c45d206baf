// Package admin serves the optional diagnostics and control HTTP API:
// live reminders, history, the retry set, reconcile reports, entity sync and pprof.
package admin

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"remindcore/internal/integration"
	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	"remindcore/internal/scheduler"
)

const defaultAddr = "127.0.0.1:7070"

// Config controls the admin HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback Addr requires Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Registry is the read side of the reminder registry.
type Registry interface {
	Live() []reminder.ScheduledReminder
	LiveFor(ref reminder.EntityRef) []reminder.ScheduledReminder
	History() []reminder.ScheduledReminder
	RetryItems() []registry.RetryItem
	Stats() registry.Stats
}

type Reconciler interface {
	ReconcileNow(ctx context.Context) (scheduler.Report, error)
	LastReport() (scheduler.Report, uint64)
	Location() *time.Location
}

type Entities interface {
	Sync(ctx context.Context, entities []integration.Entity) []integration.Summary
	OnEntityDeleted(ctx context.Context, kind reminder.EntityKind, id string) int
	OnEntityCompleted(ctx context.Context, kind reminder.EntityKind, id string) int
}

// HistoryFunc reads persisted history, newest first.
type HistoryFunc func(ctx context.Context, limit int) ([]reminder.ScheduledReminder, error)

// Deps are the components the API reads from and drives.
type Deps struct {
	Registry   Registry
	Reconciler Reconciler
	Entities   Entities
	// History is optional; without it /history serves the in-memory log.
	History HistoryFunc
	// Health is optional extra detail for /healthz (e.g. supervisor stats).
	Health func() any
}

func normalize(cfg Config) Config {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// pprof profile defaults to 30s.
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return cfg
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		// ":7070" listens on every interface.
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

var _ http.Handler = (*Service)(nil)
