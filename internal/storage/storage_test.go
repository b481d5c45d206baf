package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

func sampleState(t *testing.T) registry.State {
	t.Helper()
	loc := time.FixedZone("UTC+2", 2*60*60)
	habit, err := reminder.NewConfig(reminder.KindHabit, "run", time.Date(2024, 6, 1, 8, 0, 0, 0, loc),
		reminder.Before15Minutes.Offset(), reminder.WeeklyOn(time.Monday, time.Friday), reminder.Content{Title: "Run", Body: "Coming up in 15 minutes"})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	task, err := reminder.NewConfig(reminder.KindTask, "taxes", time.Date(2024, 6, 30, 17, 0, 0, 0, time.UTC),
		reminder.CustomDays(2, 30*time.Minute), reminder.NoRecurrence(), reminder.Content{Title: "Taxes"})
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return registry.State{
		Live: []reminder.ScheduledReminder{{
			ID:          7,
			Handle:      "lc-1",
			Key:         habit.Key(),
			FireAt:      time.Date(2024, 6, 3, 7, 45, 0, 0, loc),
			Content:     habit.Content,
			State:       reminder.StatePending,
			Source:      habit,
			ScheduledAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		}},
		Retry: []reminder.Config{task},
	}
}

func roundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := st.LoadState(ctx); err != nil || ok {
		t.Fatalf("LoadState on empty store = ok %v, err %v", ok, err)
	}
	want := sampleState(t)
	if err := st.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, ok, err := st.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadState = ok %v, err %v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}

	// A later save replaces, not merges.
	if err := st.SaveState(ctx, registry.State{}); err != nil {
		t.Fatalf("SaveState empty: %v", err)
	}
	got, ok, err = st.LoadState(ctx)
	if err != nil || !ok || len(got.Live) != 0 || len(got.Retry) != 0 {
		t.Fatalf("after empty save = %+v ok %v err %v", got, ok, err)
	}

	closed := want.Live[0]
	closed.State = reminder.StateFired
	closed.ClosedAt = closed.FireAt
	second := closed
	second.Handle = "lc-2"
	second.State = reminder.StateCancelled
	second.Reason = "superseded"
	if err := st.AppendHistory(ctx, closed, second); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	hist, err := st.RecentHistory(ctx, 1)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].Handle != "lc-2" || hist[0].Reason != "superseded" {
		t.Fatalf("RecentHistory = %+v", hist)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "reminders.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	roundTrip(t, st)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	roundTrip(t, st)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("REMINDD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REMINDD_TEST_POSTGRES_DSN not set")
	}
	st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if err := st.SaveState(context.Background(), registry.State{}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := st.SaveState(context.Background(), sampleState(t)); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, ok, err := st.LoadState(context.Background())
	if err != nil || !ok {
		t.Fatalf("LoadState = ok %v err %v", ok, err)
	}
	if diff := cmp.Diff(sampleState(t), got); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}
