package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"remindcore/internal/delivery/deliverytest"
	"remindcore/internal/integration"
	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	"remindcore/internal/scheduler"
	logx "remindcore/pkg/logx"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

const seed = `{"entities": [
  {"kind": "task", "id": "report", "title": "Report", "anchor": "2024-06-01T12:00:00Z", "reminders": ["15m", "1h"]},
  {"kind": "event", "id": "standup", "anchor": "2024-06-01T08:00:00Z", "reminders": ["5m"]}
]}`

type harness struct {
	svc *Service
	reg *registry.Registry
	ch  *deliverytest.Channel
}

func newHarness(t *testing.T, cfg Config) harness {
	t.Helper()
	ch := deliverytest.New()
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, ch, logx.Nop(), nil)
	reg := registry.New(registry.Config{}, sched, logx.Nop(), nil, registry.WithClock(func() time.Time { return now }))
	sched.Attach(reg)
	svc := New(cfg, Deps{
		Registry:   reg,
		Reconciler: sched,
		Entities:   integration.New(reg, logx.Nop()),
	}, logx.Nop())
	return harness{svc: svc, reg: reg, ch: ch}
}

func (h harness) do(t *testing.T, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.svc.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSyncEntitiesReportsPartialSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	rec := h.do(t, http.MethodPost, "/entities", seed)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	res := decode[[]EntityResult](t, rec)
	got := map[string]int{}
	for _, r := range res {
		got[r.Entity.ID] = r.Scheduled
	}
	if diff := cmp.Diff(map[string]int{"report": 2, "standup": 0}, got); diff != "" {
		t.Fatalf("scheduled mismatch (-want +got):\n%s", diff)
	}
	if len(res[1].Warnings) != 1 {
		t.Fatalf("standup warnings = %v", res[1].Warnings)
	}
	if h.ch.Len() != 2 {
		t.Fatalf("channel len = %d", h.ch.Len())
	}

	rec = h.do(t, http.MethodGet, "/reminders?kind=task&id=report", "")
	live := decode[[]reminder.ScheduledReminder](t, rec)
	if len(live) != 2 {
		t.Fatalf("live = %d, want 2", len(live))
	}
}

func TestDeleteAndCompleteEntity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.do(t, http.MethodPost, "/entities", seed)

	rec := h.do(t, http.MethodPost, "/entities/task/report/complete", "")
	if got := decode[map[string]int](t, rec); got["cancelled"] != 2 {
		t.Fatalf("complete = %v", got)
	}
	rec = h.do(t, http.MethodDelete, "/entities/task/report", "")
	if got := decode[map[string]int](t, rec); got["cancelled"] != 0 {
		t.Fatalf("delete after complete = %v", got)
	}
	if rec := h.do(t, http.MethodDelete, "/entities/chore/x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d", rec.Code)
	}
	if h.ch.Len() != 0 {
		t.Fatalf("channel len = %d", h.ch.Len())
	}
	hist := decode[[]reminder.ScheduledReminder](t, h.do(t, http.MethodGet, "/history?limit=1", ""))
	if len(hist) != 1 || hist[0].State != reminder.StateCancelled {
		t.Fatalf("history = %+v", hist)
	}
}

func TestReconcileRepairsLostAlert(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	if rec := h.do(t, http.MethodGet, "/reconcile", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("before first run status = %d", rec.Code)
	}
	h.do(t, http.MethodPost, "/entities", seed)
	for _, a := range h.ch.Alerts() {
		h.ch.Drop(a.Handle)
		break
	}

	rep := decode[scheduler.Report](t, h.do(t, http.MethodPost, "/reconcile", ""))
	if rep.Expired != 1 || rep.Retry.Scheduled != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if h.ch.Len() != 2 {
		t.Fatalf("channel len = %d", h.ch.Len())
	}
	st := decode[statsResponse](t, h.do(t, http.MethodGet, "/stats", ""))
	if st.Runs != 1 || st.Registry.Live != 2 || st.Registry.Retry != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Token: "s3cret"})

	tests := []struct {
		name   string
		target string
		hdr    []string
		want   int
	}{
		{"health is public", "/healthz", nil, http.StatusOK},
		{"missing token", "/reminders", nil, http.StatusUnauthorized},
		{"wrong bearer", "/reminders", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/reminders", []string{"Authorization", "Bearer s3cret"}, http.StatusOK},
		{"query token", "/retry?token=s3cret", nil, http.StatusOK},
		{"pprof disabled", "/debug/pprof/?token=s3cret", nil, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := h.do(t, http.MethodGet, tc.target, "", tc.hdr...); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestReconfigureMountsPprof(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.svc.Reconfigure(context.Background(), Config{Pprof: true})
	if rec := h.do(t, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("pprof status = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:7070": true,
		"localhost:7070": true,
		"[::1]:7070":     true,
		":7070":          false,
		"0.0.0.0:7070":   false,
		"10.0.0.5:7070":  false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestStartServesOnLoopback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.Start(ctx)
	defer h.svc.Stop(context.Background())

	var addr string
	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); time.Sleep(10 * time.Millisecond) {
		if addr = h.svc.Addr(); addr != "" {
			break
		}
	}
	if addr == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
