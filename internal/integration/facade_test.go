package integration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"remindcore/internal/delivery/deliverytest"
	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	"remindcore/internal/scheduler"
	logx "remindcore/pkg/logx"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newFacade(t *testing.T) (*Facade, *registry.Registry, *deliverytest.Channel) {
	t.Helper()
	ch := deliverytest.New()
	svc := scheduler.New(scheduler.Config{}, ch, logx.Nop(), nil)
	reg := registry.New(registry.Config{}, svc, logx.Nop(), nil, registry.WithClock(func() time.Time { return now }))
	svc.Attach(reg)
	return New(reg, logx.Nop()), reg, ch
}

func settings(offs ...reminder.StandardOffset) []Setting {
	out := make([]Setting, 0, len(offs))
	for _, o := range offs {
		out = append(out, Setting{Offset: o.Offset(), Enabled: true})
	}
	return out
}

func TestCreateSchedulesEachEnabledOffset(t *testing.T) {
	t.Parallel()
	f, reg, ch := newFacade(t)
	ctx := context.Background()
	e := Entity{
		Kind:             reminder.KindTask,
		ID:               "report",
		Title:            "Quarterly report",
		Anchor:           time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		RemindersEnabled: true,
		Reminders: append(settings(reminder.Before30Minutes, reminder.Before5Minutes),
			Setting{Offset: reminder.Before1Hour.Offset(), Enabled: false}),
	}

	sum := f.OnEntityCreatedOrUpdated(ctx, e)
	if err := sum.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if sum.Scheduled() != 2 || ch.Len() != 2 {
		t.Fatalf("scheduled=%d channel=%d, want 2/2", sum.Scheduled(), ch.Len())
	}
	got := []time.Time{}
	for _, a := range ch.Alerts() {
		got = append(got, a.FireAt)
	}
	want := []time.Time{
		time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 9, 55, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fire instants mismatch (-want +got):\n%s", diff)
	}
	if live := reg.LiveFor(e.Ref()); live[0].Content.Title != "Quarterly report" || !strings.HasPrefix(live[0].Content.Body, "Due in") {
		t.Fatalf("content = %+v", live[0].Content)
	}
}

func TestUpdatePrunesRemovedOffsets(t *testing.T) {
	t.Parallel()
	f, reg, ch := newFacade(t)
	ctx := context.Background()
	e := Entity{
		Kind:             reminder.KindEvent,
		ID:               "standup",
		Title:            "Standup",
		Anchor:           now.Add(3 * time.Hour),
		RemindersEnabled: true,
		Reminders:        settings(reminder.Before15Minutes, reminder.Before1Hour),
	}
	f.OnEntityCreatedOrUpdated(ctx, e)

	e.Reminders = settings(reminder.Before15Minutes)
	e.Anchor = now.Add(4 * time.Hour)
	sum := f.OnEntityCreatedOrUpdated(ctx, e)
	if sum.Cancelled != 1 {
		t.Fatalf("Cancelled = %d, want 1", sum.Cancelled)
	}
	live := reg.LiveFor(e.Ref())
	if len(live) != 1 || ch.Len() != 1 {
		t.Fatalf("live=%d channel=%d, want 1/1", len(live), ch.Len())
	}
	if want := now.Add(4*time.Hour - 15*time.Minute); !live[0].FireAt.Equal(want) {
		t.Fatalf("FireAt = %v, want %v", live[0].FireAt, want)
	}
}

func TestDisabledEntityCancelsEverything(t *testing.T) {
	t.Parallel()
	f, _, ch := newFacade(t)
	ctx := context.Background()
	e := Entity{
		Kind:             reminder.KindTask,
		ID:               "a",
		Anchor:           now.Add(5 * time.Hour),
		RemindersEnabled: true,
		Reminders:        settings(reminder.Before5Minutes, reminder.Before1Hour),
	}
	f.OnEntityCreatedOrUpdated(ctx, e)
	e.RemindersEnabled = false
	sum := f.OnEntityCreatedOrUpdated(ctx, e)
	if sum.Cancelled != 2 || ch.Len() != 0 {
		t.Fatalf("Cancelled=%d channel=%d", sum.Cancelled, ch.Len())
	}
}

func TestPartialSuccessSummary(t *testing.T) {
	t.Parallel()
	f, _, _ := newFacade(t)
	ctx := context.Background()
	// 1 day before is already past; 15 minutes before is still ahead.
	e := Entity{
		Kind:             reminder.KindTask,
		ID:               "soon",
		Anchor:           now.Add(time.Hour),
		RemindersEnabled: true,
		Reminders:        settings(reminder.Before1Day, reminder.Before15Minutes),
	}
	sum := f.OnEntityCreatedOrUpdated(ctx, e)
	if sum.Scheduled() != 1 {
		t.Fatalf("Scheduled = %d, want 1", sum.Scheduled())
	}
	if !errors.Is(sum.Err(), reminder.ErrNoValidOccurrence) {
		t.Fatalf("Err = %v, want ErrNoValidOccurrence", sum.Err())
	}
	statuses := []Status{}
	for _, o := range sum.Outcomes {
		statuses = append(statuses, o.Status)
	}
	if diff := cmp.Diff([]Status{StatusNoOccurrence, StatusScheduled}, statuses); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if w := sum.Warnings(); len(w) != 1 || !strings.Contains(w[0], "1 day") {
		t.Fatalf("Warnings = %v", w)
	}
}

func TestRejectedOffsetIsWarning(t *testing.T) {
	t.Parallel()
	f, reg, ch := newFacade(t)
	ctx := context.Background()
	ch.SetReject(reminder.ErrDeliveryRejected)
	e := Entity{
		Kind:             reminder.KindTask,
		ID:               "a",
		Anchor:           now.Add(time.Hour),
		RemindersEnabled: true,
		Reminders:        settings(reminder.Before5Minutes),
	}
	sum := f.OnEntityCreatedOrUpdated(ctx, e)
	if len(sum.Outcomes) != 1 || sum.Outcomes[0].Status != StatusRejected {
		t.Fatalf("outcomes = %+v", sum.Outcomes)
	}
	if len(sum.Warnings()) != 1 {
		t.Fatalf("Warnings = %v", sum.Warnings())
	}
	if items := reg.RetryItems(); len(items) != 1 {
		t.Fatalf("retry set = %+v", items)
	}
}

func TestDeleteAndComplete(t *testing.T) {
	t.Parallel()
	f, reg, ch := newFacade(t)
	ctx := context.Background()
	habit := Entity{
		Kind:             reminder.KindHabit,
		ID:               "run",
		Title:            "Run",
		Anchor:           time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Recurrence:       reminder.Daily(),
		RemindersEnabled: true,
		Reminders:        settings(reminder.Before15Minutes),
	}
	task := Entity{
		Kind:             reminder.KindTask,
		ID:               "run",
		Anchor:           now.Add(2 * time.Hour),
		RemindersEnabled: true,
		Reminders:        settings(reminder.Before30Minutes),
	}
	f.Sync(ctx, []Entity{habit, task})
	if ch.Len() != 2 {
		t.Fatalf("channel = %d, want 2", ch.Len())
	}

	if n := f.OnEntityCompleted(ctx, reminder.KindHabit, "run"); n != 1 {
		t.Fatalf("OnEntityCompleted = %d", n)
	}
	if len(reg.LiveFor(task.Ref())) != 1 {
		t.Fatal("completing the habit touched the task with the same id")
	}
	if n := f.OnEntityDeleted(ctx, reminder.KindTask, "run"); n != 1 {
		t.Fatalf("OnEntityDeleted = %d", n)
	}
	if ch.Len() != 0 {
		t.Fatalf("channel = %d after delete", ch.Len())
	}
}

func TestLoadEntities(t *testing.T) {
	t.Parallel()
	src := `
entities:
  - kind: habit
    id: run
    title: Morning run
    anchor: "2024-06-01 08:00"
    recurrence: weekly:mon,wed
    reminders: ["15m", "custom:45m"]
  - kind: task
    id: taxes
    anchor: "2024-06-30T17:00:00Z"
    reminders: [1d]
    disabled_reminders: [1h]
    reminders_enabled: false
`
	got, err := LoadEntities(strings.NewReader(src), time.UTC)
	if err != nil {
		t.Fatalf("LoadEntities: %v", err)
	}
	want := []Entity{
		{
			Kind:             reminder.KindHabit,
			ID:               "run",
			Title:            "Morning run",
			Anchor:           time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
			Recurrence:       reminder.WeeklyOn(time.Monday, time.Wednesday),
			RemindersEnabled: true,
			Reminders: []Setting{
				{Offset: reminder.Before15Minutes.Offset(), Enabled: true},
				{Offset: reminder.Custom(45 * time.Minute), Enabled: true},
			},
		},
		{
			Kind:             reminder.KindTask,
			ID:               "taxes",
			Title:            "taxes",
			Anchor:           time.Date(2024, 6, 30, 17, 0, 0, 0, time.UTC),
			Recurrence:       reminder.NoRecurrence(),
			RemindersEnabled: false,
			Reminders: []Setting{
				{Offset: reminder.Before1Day.Offset(), Enabled: true},
				{Offset: reminder.Before1Hour.Offset(), Enabled: false},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("LoadEntities mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadEntities(strings.NewReader("entities:\n  - kind: chore\n    id: x\n    anchor: 2024-06-01\n"), time.UTC); !errors.Is(err, reminder.ErrInvalidConfig) {
		t.Fatalf("unknown kind err = %v", err)
	}
}
