package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "registry"))
	log.Warn("delivery rejected", String("key", "task/42/30m"), Err(errors.New("quota")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["level"] != "warn" || m["message"] != "delivery rejected" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["comp"] != "registry" || m["key"] != "task/42/30m" {
		t.Fatalf("missing fields: %v", m)
	}
	if m["err"] != "quota" {
		t.Fatalf("err = %v, want quota", m["err"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("Enabled(debug) = true at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("Enabled(error) = false at warn level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Info("no-op")
	if Nop().IsZero() {
		t.Fatal("Nop() should not report IsZero")
	}
}
