package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"remindcore/internal/app"
	"remindcore/internal/delivery"
	"remindcore/internal/integration"
	logx "remindcore/pkg/logx"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	defCfg := os.Getenv("REMINDD_CONFIG")
	if defCfg == "" {
		defCfg = "./remindd.yaml"
	}
	var cfgPath, entitiesPath string
	flag.StringVar(&cfgPath, "config", defCfg, "path to config (yaml or json)")
	flag.StringVar(&entitiesPath, "entities", os.Getenv("REMINDD_ENTITIES"), "optional yaml entity list to sync at startup")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Console logger until the config has been read.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	var log logx.Logger
	a, err := app.New(cfgPath, app.WithPresenter(func(al delivery.Alert) {
		log.Info("reminder",
			logx.String("title", al.Content.Title),
			logx.String("body", al.Content.Body),
			logx.Time("fire_at", al.FireAt),
		)
	}))
	if err != nil {
		boot.Error("load failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	log = a.Logger().With(logx.String("comp", "main"))

	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	if entitiesPath != "" {
		if err := syncEntities(ctx, a, entitiesPath); err != nil {
			log.Error("entity sync failed", logx.String("path", entitiesPath), logx.Err(err))
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}
	go watchdog(ctx, log)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	runErr := a.Err()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "fatal:", runErr)
		os.Exit(1)
	}
}

func syncEntities(ctx context.Context, a *app.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entities, err := integration.LoadEntities(f, a.Scheduler().Location())
	if err != nil {
		return err
	}
	log := a.Logger().With(logx.String("comp", "sync"))
	scheduled := 0
	for _, sum := range a.Facade().Sync(ctx, entities) {
		scheduled += sum.Scheduled()
		for _, w := range sum.Warnings() {
			log.Warn(w, logx.String("entity", sum.Entity.String()))
		}
	}
	log.Info("entities synced", logx.Int("entities", len(entities)), logx.Int("scheduled", scheduled))
	return nil
}

// watchdog pings systemd at half the configured WatchdogSec, if any.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("sd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
