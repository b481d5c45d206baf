package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  reconcile_interval: 30s
  delivery_timeout: 2s
  retry_limit: 5
registry:
  history_size: 50
delivery:
  driver: local
  max_pending: 32
storage:
  driver: file
  path: ./data/reminders.json
admin:
  enabled: true
  addr: 127.0.0.1:7070
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("remindd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Scheduler.ReconcileInterval != "30s" || cfg.Registry.HistorySize != 50 || cfg.Storage.Driver != "file" {
		t.Fatalf("decoded = %+v", cfg)
	}

	js := `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"scheduler":{"retry_limit":3}}`
	cfg, err = Decode("remindd.json", []byte(js))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if cfg.Scheduler.RetryLimit != 3 || cfg.Storage != nil {
		t.Fatalf("decoded = %+v", cfg)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		path string
		doc  string
	}{
		{"unknown field", "c.json", `{"logging":{},"scheduler":{},"plugins":{}}`},
		{"trailing data", "c.json", `{"logging":{},"scheduler":{}} {}`},
		{"bad duration", "c.yaml", "scheduler:\n  reconcile_interval: soon\n"},
		{"negative duration", "c.yaml", "scheduler:\n  delivery_timeout: -1s\n"},
		{"bad timezone", "c.yaml", "scheduler:\n  timezone: Mars/Olympus\n"},
		{"storage without path", "c.yaml", "storage:\n  driver: sqlite\n"},
		{"postgres without dsn", "c.yaml", "storage:\n  driver: postgres\n"},
		{"unknown delivery", "c.yaml", "delivery:\n  driver: apns\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.doc)); err == nil {
				t.Fatalf("Decode(%q) succeeded", tc.doc)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Minute, false},
		{"0s", time.Minute, false},
		{" 90s ", 90 * time.Second, false},
		{"-5s", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, time.Minute)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseDurationOrDefault(%q) err = %v", tc.raw, err)
		}
		if err == nil && got != tc.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	a, err := Decode("a.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b := *a
	b.Admin.Token = "s3cret"
	b.Scheduler.ReconcileInterval = "10s"
	changed, attrs := SummarizeChange(a, &b)
	if len(changed) != 2 || changed[0] != "admin" || changed[1] != "scheduler" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got, _ := SummarizeChange(a, a); len(got) != 0 {
		t.Fatalf("identical configs reported %v", got)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "remindd.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(sampleYAML, "history_size: 50", "history_size: 75", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Registry.HistorySize != 75 {
			t.Fatalf("reloaded history_size = %d", cfg.Registry.HistorySize)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Registry.HistorySize != 75 {
		t.Fatal("reload not committed")
	}
}
