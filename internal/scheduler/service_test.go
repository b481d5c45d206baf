package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindcore/internal/delivery/deliverytest"
	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type harness struct {
	svc *Service
	reg *registry.Registry
	ch  *deliverytest.Channel
	clk *clock
}

func newHarness(t *testing.T, cfg Config, start time.Time) *harness {
	t.Helper()
	clk := &clock{t: start}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = time.Hour
	}
	ch := deliverytest.New()
	svc := New(cfg, ch, logx.Nop(), nil, WithClock(clk.now))
	reg := registry.New(registry.Config{}, svc, logx.Nop(), nil, registry.WithClock(clk.now))
	svc.Attach(reg)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return &harness{svc: svc, reg: reg, ch: ch, clk: clk}
}

var day0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func habit(t *testing.T, id string) reminder.Config {
	t.Helper()
	cfg, err := reminder.NewConfig(reminder.KindHabit, id, day0, reminder.Before15Minutes.Offset(), reminder.Daily(), reminder.Content{Title: id})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func task(t *testing.T, id string, anchor time.Time) reminder.Config {
	t.Helper()
	cfg, err := reminder.NewConfig(reminder.KindTask, id, anchor, reminder.Before5Minutes.Offset(), reminder.NoRecurrence(), reminder.Content{Title: id})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func TestRecurringReminderPerpetuates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, day0.Add(-time.Hour))
	ctx := context.Background()

	first, err := h.reg.Upsert(ctx, habit(t, "run"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if want := day0.Add(-15 * time.Minute); !first.FireAt.Equal(want) {
		t.Fatalf("first FireAt = %v, want %v", first.FireAt, want)
	}

	const n = 5
	var fireTimes []time.Time
	for i := 0; i < n; i++ {
		alerts := h.ch.Alerts()
		if len(alerts) != 1 {
			t.Fatalf("iteration %d: channel holds %d alerts, want 1", i, len(alerts))
		}
		h.clk.set(alerts[0].FireAt)
		fireTimes = append(fireTimes, alerts[0].FireAt)
		if !h.ch.Fire(alerts[0].Handle) {
			t.Fatalf("iteration %d: fire failed", i)
		}
		if live := h.reg.Live(); len(live) != 1 {
			t.Fatalf("iteration %d: live = %d, want 1", i, len(live))
		}
	}
	for i := 1; i < len(fireTimes); i++ {
		if d := fireTimes[i].Sub(fireTimes[i-1]); d != 24*time.Hour {
			t.Fatalf("spacing %d = %v, want 24h", i, d)
		}
	}
	fired := 0
	for _, r := range h.reg.History() {
		if r.State == reminder.StateFired {
			fired++
		}
	}
	if fired != n {
		t.Fatalf("fired records = %d, want %d", fired, n)
	}
}

func TestOneShotFireLeavesNothingPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, day0)
	ctx := context.Background()
	rec, err := h.reg.Upsert(ctx, task(t, "a", day0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h.ch.Fire(rec.Handle)
	if len(h.reg.Live()) != 0 || h.ch.Len() != 0 {
		t.Fatalf("live=%d channel=%d after one-shot fire", len(h.reg.Live()), h.ch.Len())
	}
}

func TestCancelAllRemovesFromChannel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, day0)
	ctx := context.Background()
	ref := reminder.EntityRef{Kind: reminder.KindTask, ID: "a"}
	for _, so := range reminder.StandardOffsets {
		cfg := task(t, "a", day0.Add(48*time.Hour))
		cfg.Offset = so.Offset()
		if _, err := h.reg.Upsert(ctx, cfg); err != nil {
			t.Fatalf("Upsert %s: %v", so, err)
		}
	}
	if h.ch.Len() != len(reminder.StandardOffsets) {
		t.Fatalf("channel = %d", h.ch.Len())
	}
	h.reg.CancelAll(ctx, ref)
	if h.ch.Len() != 0 || len(h.reg.LiveFor(ref)) != 0 {
		t.Fatalf("after CancelAll channel=%d live=%d", h.ch.Len(), len(h.reg.LiveFor(ref)))
	}
}

func TestReconcileRepairsLostAlert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, day0)
	ctx := context.Background()
	rec, err := h.reg.Upsert(ctx, task(t, "a", day0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h.ch.Drop(rec.Handle)

	rep, err := h.svc.ReconcileNow(ctx)
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if rep.Expired != 1 || rep.Retry.Scheduled != 1 {
		t.Fatalf("report = %+v", rep)
	}
	alerts := h.ch.Alerts()
	if len(alerts) != 1 || !alerts[0].FireAt.Equal(rec.FireAt) || alerts[0].Handle == rec.Handle {
		t.Fatalf("alerts after repair = %+v", alerts)
	}
	if _, runs := h.svc.LastReport(); runs < 2 {
		t.Fatalf("runs = %d, want startup + manual", runs)
	}
}

func TestReconcileCancelsOrphans(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, day0)
	ctx := context.Background()
	h.ch.Inject("stray", day0.Add(time.Hour))

	if _, err := h.svc.ReconcileNow(ctx); err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if !h.ch.Has("stray") {
		t.Fatal("orphan cancelled on first sighting")
	}
	rep, err := h.svc.ReconcileNow(ctx)
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if rep.Orphans != 1 || h.ch.Has("stray") {
		t.Fatalf("orphan survived: %+v", rep)
	}
}

func TestScheduleTimeoutIsRejectionAndLateHandleCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{DeliveryTimeout: 20 * time.Millisecond}, day0)
	ctx := context.Background()
	h.ch.SetDelay(100 * time.Millisecond)

	_, err := h.reg.Upsert(ctx, task(t, "a", day0.Add(time.Hour)))
	if !errors.Is(err, reminder.ErrDeliveryRejected) {
		t.Fatalf("err = %v, want ErrDeliveryRejected", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		sched, cancelled := h.ch.Counts()
		if sched == 1 && cancelled == 1 && h.ch.Len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("late handle not cancelled: scheduled=%d cancelled=%d pending=%d", sched, cancelled, h.ch.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.ch.SetDelay(0)
	rep, err := h.svc.ReconcileNow(ctx)
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if rep.Retry.Scheduled != 1 || h.ch.Len() != 1 {
		t.Fatalf("retry did not schedule: %+v pending=%d", rep, h.ch.Len())
	}
}

func TestFireAfterEditDoesNotDoubleSchedule(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, day0.Add(-time.Hour))
	ctx := context.Background()
	cfg := habit(t, "run")
	rec, err := h.reg.Upsert(ctx, cfg)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// The edit lands first; the old handle fires anyway.
	cfg.Content.Title = "run (edited)"
	if _, err := h.reg.Upsert(ctx, cfg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	h.ch.Inject(rec.Handle, rec.FireAt)
	h.ch.Fire(rec.Handle)

	if h.ch.Len() != 1 || len(h.reg.Live()) != 1 {
		t.Fatalf("channel=%d live=%d, want 1/1", h.ch.Len(), len(h.reg.Live()))
	}
	if got := h.ch.Alerts()[0].Content.Title; got != "run (edited)" {
		t.Fatalf("pending title = %q", got)
	}
}

func TestApplyTimezone(t *testing.T) {
	t.Parallel()
	if _, err := time.LoadLocation("Europe/Berlin"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	svc := New(Config{Timezone: "Europe/Berlin"}, deliverytest.New(), logx.Nop(), nil)
	if got := svc.Location().String(); got != "Europe/Berlin" {
		t.Fatalf("Location = %s", got)
	}
	svc.Apply(Config{Timezone: "Not/AZone"})
	if svc.Location() != time.Local {
		t.Fatalf("invalid zone not ignored: %s", svc.Location())
	}
}

func TestStartWithoutRegistryFails(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, deliverytest.New(), logx.Nop(), nil)
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("Start without registry succeeded")
	}
}
