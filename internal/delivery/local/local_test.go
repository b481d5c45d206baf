package local

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindcore/internal/delivery"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

func TestScheduleFiresOnce(t *testing.T) {
	t.Parallel()
	var (
		mu        sync.Mutex
		fired     []reminder.Handle
		presented []delivery.Alert
	)
	done := make(chan struct{}, 1)
	c := New(Config{MaxPending: 4}, logx.Nop(), func(a delivery.Alert) {
		mu.Lock()
		presented = append(presented, a)
		mu.Unlock()
	})
	c.OnFired(func(h reminder.Handle) {
		mu.Lock()
		fired = append(fired, h)
		mu.Unlock()
		done <- struct{}{}
	})

	h, err := c.Schedule(context.Background(), time.Now().Add(20*time.Millisecond), reminder.Content{Title: "stretch"})
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alert did not fire")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != h {
		t.Fatalf("fired = %v, want [%s]", fired, h)
	}
	if len(presented) != 1 || presented[0].Content.Title != "stretch" {
		t.Fatalf("presented = %+v", presented)
	}
	if pending, _ := c.ListPending(context.Background()); len(pending) != 0 {
		t.Fatalf("pending after fire = %v", pending)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop(), nil)
	c.OnFired(func(h reminder.Handle) { t.Errorf("cancelled handle fired: %s", h) })

	h, err := c.Schedule(context.Background(), time.Now().Add(50*time.Millisecond), reminder.Content{})
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if err := c.Cancel(context.Background(), h); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if err := c.Cancel(context.Background(), h); !errors.Is(err, reminder.ErrUnknownHandle) {
		t.Fatalf("second Cancel err = %v, want ErrUnknownHandle", err)
	}
	time.Sleep(100 * time.Millisecond)
}

func TestQuotaRejects(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxPending: 1}, logx.Nop(), nil)
	defer c.Stop()
	at := time.Now().Add(time.Hour)
	h1, err := c.Schedule(context.Background(), at, reminder.Content{})
	if err != nil {
		t.Fatalf("first Schedule error: %v", err)
	}
	if _, err := c.Schedule(context.Background(), at, reminder.Content{}); !errors.Is(err, reminder.ErrDeliveryRejected) {
		t.Fatalf("second Schedule err = %v, want ErrDeliveryRejected", err)
	}
	_ = c.Cancel(context.Background(), h1)
	h2, err := c.Schedule(context.Background(), at, reminder.Content{})
	if err != nil {
		t.Fatalf("Schedule after cancel: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("handle reused: %s", h1)
	}
}

func TestRateLimitRejects(t *testing.T) {
	t.Parallel()
	c := New(Config{MaxPending: 100, RatePerSec: 1}, logx.Nop(), nil)
	defer c.Stop()
	at := time.Now().Add(time.Hour)
	if _, err := c.Schedule(context.Background(), at, reminder.Content{}); err != nil {
		t.Fatalf("first Schedule error: %v", err)
	}
	if _, err := c.Schedule(context.Background(), at, reminder.Content{}); !errors.Is(err, reminder.ErrDeliveryRejected) {
		t.Fatalf("burst Schedule err = %v, want ErrDeliveryRejected", err)
	}
}

func TestResetDropsQueue(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop(), nil)
	at := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := c.Schedule(context.Background(), at.Add(time.Duration(i)*time.Minute), reminder.Content{}); err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
	}
	if got := len(c.Alerts()); got != 3 {
		t.Fatalf("Alerts = %d, want 3", got)
	}
	if n := c.Reset(); n != 3 {
		t.Fatalf("Reset dropped %d, want 3", n)
	}
	if pending, _ := c.ListPending(context.Background()); len(pending) != 0 {
		t.Fatalf("pending after reset = %v", pending)
	}
}
