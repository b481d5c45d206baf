package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"remindcore/internal/delivery"
	"remindcore/internal/eventbus"
	"remindcore/internal/registry"
	logx "remindcore/pkg/logx"
)

// ErrReconcileBusy is returned by ReconcileNow while another sweep is running.
var ErrReconcileBusy = errors.New("reconcile already running")

// Config controls the scheduler service.
type Config struct {
	// Timezone is the IANA zone used for anchors that carry no zone of their own.
	Timezone string
	// ReconcileInterval is the period of the background sweep. Default 1m.
	ReconcileInterval time.Duration
	// DeliveryTimeout bounds each call into the delivery channel. Default 5s.
	DeliveryTimeout time.Duration
}

// Report summarizes one reconciliation run.
type Report struct {
	At       time.Time            `json:"at"`
	Took     time.Duration        `json:"took"`
	Checked  int                  `json:"checked"`
	Expired  int                  `json:"expired"`
	Deferred int                  `json:"deferred"`
	Orphans  int                  `json:"orphans"`
	Skipped  int                  `json:"skipped"`
	Retry    registry.RetryReport `json:"retry"`
	Err      string               `json:"err,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	ch  delivery.Channel
	reg *registry.Registry

	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context
	stopRun context.CancelFunc

	reconMu sync.Mutex
	last    Report
	runs    uint64

	// Throttles repeated warnings about a misbehaving channel.
	warnEvery rate.Sometimes
}
