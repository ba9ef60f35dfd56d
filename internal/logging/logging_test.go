package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	var buf bytes.Buffer

	h, err := NewHandler(&buf, slog.LevelInfo, "json")
	if err != nil {
		t.Fatal(err)
	}
	slog.New(h).Info("capture: source running", "position", "back")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not parseable: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "capture: source running" || rec["position"] != "back" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	h, err = NewHandler(&buf, slog.LevelInfo, "text")
	if err != nil {
		t.Fatal(err)
	}
	slog.New(h).Debug("hidden")
	slog.New(h).Warn("shown", "n", 1)
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "n=1") {
		t.Errorf("text output = %q", out)
	}

	if _, err := NewHandler(&buf, slog.LevelInfo, "xml"); err == nil {
		t.Error("NewHandler(xml) should fail")
	}
}

func TestSetup_LevelVar(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	levelVar, err := Setup(&buf, "warn", "text")
	if err != nil {
		t.Fatal(err)
	}

	slog.Info("before")
	levelVar.Set(slog.LevelDebug)
	slog.Debug("after")

	out := buf.String()
	if strings.Contains(out, "before") || !strings.Contains(out, "after") {
		t.Errorf("output = %q", out)
	}
}

func TestTee(t *testing.T) {
	var buf bytes.Buffer
	next := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})

	var events []Event
	logger := slog.New(NewTee(next, slog.LevelInfo, func(e Event) {
		events = append(events, e)
	})).With("instance", "kitchen")

	logger.Debug("dropped")
	logger.Info("capture: switching source", "to", "front")
	logger.Error("capture: failed to start source")

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Message != "capture: switching source" || events[0].Attrs != "instance=kitchen to=front" {
		t.Errorf("event[0] = %+v", events[0])
	}
	if strings.Contains(buf.String(), "switching") || !strings.Contains(buf.String(), "failed to start") {
		t.Errorf("next handler output = %q", buf.String())
	}
}
