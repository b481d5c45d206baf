package config

// Config is the remindd configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Registry  RegistryConfig  `json:"registry,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Admin     AdminConfig     `json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls delivery-channel interaction and reconciliation.
//
// Defaults (when fields are omitted/zero):
//   - timezone: local
//   - reconcile_interval: "1m"
//   - delivery_timeout: "5s"
//   - retry_limit: 10 (negative means unlimited)
type SchedulerConfig struct {
	// Timezone is the IANA zone for entity anchors given without a zone.
	Timezone          string `json:"timezone,omitempty"`
	ReconcileInterval string `json:"reconcile_interval,omitempty"`
	DeliveryTimeout   string `json:"delivery_timeout,omitempty"`
	RetryLimit        int    `json:"retry_limit,omitempty"`
}

type RegistryConfig struct {
	// HistorySize bounds the in-memory recent-history log (default 200).
	HistorySize int `json:"history_size,omitempty"`
}

// DeliveryConfig selects the delivery channel.
//
// Only the in-process "local" driver ships with remindd; its quota and rate
// limit mimic an OS notification queue.
type DeliveryConfig struct {
	Driver     string `json:"driver,omitempty"`
	MaxPending int    `json:"max_pending,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls persistence of the registry live set.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/reminders.db", "persist_interval": "30s" }
type StorageConfig struct {
	Driver          string `json:"driver"`
	Path            string `json:"path,omitempty"`
	DSN             string `json:"dsn,omitempty"` // postgres (do not log)
	BusyTimeout     string `json:"busy_timeout,omitempty"`
	PersistInterval string `json:"persist_interval,omitempty"`
}

// AdminConfig controls the optional diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:7070").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:7070"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
