package app

import (
	"strings"
	"time"

	"remindcore/internal/admin"
	"remindcore/internal/config"
	"remindcore/internal/delivery/local"
	"remindcore/internal/registry"
	"remindcore/internal/scheduler"
	"remindcore/internal/storage"
	logx "remindcore/pkg/logx"
)

const defaultPersistInterval = 30 * time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	interval, err := config.ParseDurationField("scheduler.reconcile_interval", cfg.Scheduler.ReconcileInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.ParseDurationField("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:          strings.TrimSpace(cfg.Scheduler.Timezone),
		ReconcileInterval: interval,
		DeliveryTimeout:   timeout,
	}, nil
}

func mapRegistryConfig(cfg *config.Config) registry.Config {
	return registry.Config{
		HistorySize: cfg.Registry.HistorySize,
		RetryLimit:  cfg.Scheduler.RetryLimit,
	}
}

func mapLocalConfig(cfg *config.Config) local.Config {
	return local.Config{
		MaxPending: cfg.Delivery.MaxPending,
		RatePerSec: cfg.Delivery.RatePerSec,
	}
}

// mapStorageConfig returns enabled=false when no storage driver is configured.
func mapStorageConfig(cfg *config.Config) (sc storage.Config, every time.Duration, enabled bool, err error) {
	if cfg.Storage == nil {
		return storage.Config{}, 0, false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, 0, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, 0, false, err
	}
	every, err = config.ParseDurationOrDefault("storage.persist_interval", s.PersistInterval, defaultPersistInterval)
	if err != nil {
		return storage.Config{}, 0, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(s.Path),
		DSN:         strings.TrimSpace(s.DSN),
		BusyTimeout: busy,
	}, every, true, nil
}

func mapAdminConfig(cfg *config.Config) admin.Config {
	return admin.Config{
		Enabled:       cfg.Admin.Enabled,
		Addr:          cfg.Admin.Addr,
		Token:         cfg.Admin.Token,
		AllowInsecure: cfg.Admin.AllowInsecure,
		Pprof:         cfg.Admin.Pprof,
	}
}

// restartOnly lists sections whose changes take effect after a restart.
var restartOnly = map[string]bool{
	"registry": true,
	"delivery": true,
	"storage":  true,
}
