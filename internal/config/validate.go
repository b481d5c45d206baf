package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks field syntax. It does not touch the filesystem or network.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for path, raw := range map[string]string{
		"scheduler.reconcile_interval": c.Scheduler.ReconcileInterval,
		"scheduler.delivery_timeout":   c.Scheduler.DeliveryTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Registry.HistorySize < 0 {
		errs = append(errs, errors.New("registry.history_size must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Delivery.Driver)) {
	case "", "local":
	default:
		errs = append(errs, fmt.Errorf("delivery.driver: unknown driver %q", c.Delivery.Driver))
	}
	if c.Delivery.MaxPending < 0 || c.Delivery.RatePerSec < 0 {
		errs = append(errs, errors.New("delivery limits must be >= 0"))
	}
	if s := c.Storage; s != nil {
		for path, raw := range map[string]string{
			"storage.busy_timeout":     s.BusyTimeout,
			"storage.persist_interval": s.PersistInterval,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		case "postgres", "postgresql":
			if strings.TrimSpace(s.DSN) == "" {
				errs = append(errs, errors.New("storage.dsn is required for postgres"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}
	return errors.Join(errs...)
}
