package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Buffer.Window != 5*time.Second || cfg.Buffer.AssumedFPS != 30 {
		t.Errorf("buffer = %+v, want 5s @ 30", cfg.Buffer)
	}
	if cfg.Capture.Position != "back" || cfg.Capture.Devices["front"] != "/dev/video1" {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.MQTT.Topics.Control != "delaycam/delaycam/control" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %v", ValidationErrors(errs))
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
instance_id: kitchen
buffer:
  window: 12s
  assumed_fps: 25
capture:
  source: mock
  position: front
mqtt:
  enabled: true
  broker: broker.local:1883
  topics:
    status: custom/status
`)

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.InstanceID != "kitchen" {
		t.Errorf("InstanceID = %q", cfg.InstanceID)
	}
	if cfg.Buffer.Window != 12*time.Second || cfg.Buffer.AssumedFPS != 25 {
		t.Errorf("buffer = %+v", cfg.Buffer)
	}
	if cfg.Buffer.Warmup != 3*time.Second {
		t.Errorf("Warmup = %v, want default 3s", cfg.Buffer.Warmup)
	}
	if cfg.MQTT.Topics.Control != "delaycam/kitchen/control" {
		t.Errorf("control topic = %q, want derived from instance_id", cfg.MQTT.Topics.Control)
	}
	if cfg.MQTT.Topics.Status != "custom/status" {
		t.Errorf("status topic = %q", cfg.MQTT.Topics.Status)
	}
	if cfg.MQTT.ClientID != "delaycam-kitchen" {
		t.Errorf("ClientID = %q", cfg.MQTT.ClientID)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "buffer:\n  window: 12s\n")
	t.Setenv("DELAYCAM_BUFFER_WINDOW", "20s")
	t.Setenv("DELAYCAM_LOGGING_LEVEL", "debug")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Buffer.Window != 20*time.Second {
		t.Errorf("Window = %v, want env override 20s", cfg.Buffer.Window)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	if err := flags.Parse([]string{"--log-level=error"}); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	if err := loader.BindFlag("logging.level", flags.Lookup("log-level")); err != nil {
		t.Fatalf("BindFlag() failed: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %q, want flag override error", cfg.Logging.Level)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	if err == nil {
		t.Error("Load() should fail for a missing explicit file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
buffer:
  window: -1s
logging:
  level: loud
`)
	_, err := NewLoader(path).Load()

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Load() error = %v, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(verrs), verrs)
	}
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "window: 5s") {
		t.Errorf("written config should render durations as strings:\n%s", data)
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() of written default failed: %v", err)
	}
	want := Default()
	if cfg.Buffer != want.Buffer || cfg.MQTT.Topics != want.MQTT.Topics || cfg.ShutdownTimeout != want.ShutdownTimeout {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", cfg, want)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault() should refuse to overwrite")
	}
}

func TestWatch_Reload(t *testing.T) {
	path := writeConfig(t, "buffer:\n  window: 5s\n")
	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	changes := make(chan *Config, 4)
	loader.Watch(func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})

	if err := os.WriteFile(path, []byte("buffer:\n  window: 9s\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Buffer.Window != 9*time.Second {
			t.Errorf("reloaded Window = %v, want 9s", cfg.Buffer.Window)
		}
	case <-time.After(5 * time.Second):
		t.Skip("no fsnotify event within 5s; file watching unavailable")
	}
}
