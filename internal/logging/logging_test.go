package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "logfmt")
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("tick", "n", 1)
	logger.Warn("retune failed", "tick", 7)

	out := buf.String()
	if strings.Contains(out, "msg=tick") {
		t.Errorf("info record leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "tick=7") {
		t.Errorf("expected warn record with tick=7, got %q", out)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatal(err)
	}
	logger.With("component", "loop").Debug("state", "to", "RUNNING")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected one JSON object, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "loop" || rec["to"] != "RUNNING" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
