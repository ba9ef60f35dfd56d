package core

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/internal/config"
	"github.com/e7canasta/delaycam/internal/logging"
	"github.com/e7canasta/delaycam/streamcapture"
)

// applyConfig applies a reloaded configuration. A key is applied only when
// it differs from the previously loaded file, so runtime changes made over
// MQTT or the panel survive unrelated edits. Only the buffer geometry, the
// device map, the active camera and the log level change live; other
// settings take effect on restart.
func (d *Delaycam) applyConfig(next *config.Config, err error) {
	if err != nil {
		slog.Error("core: config reload rejected, keeping current configuration", "error", err)
		return
	}

	d.mu.Lock()
	cur := d.loaded
	d.loaded = snapshotConfig(next)
	d.mu.Unlock()

	var changes []string

	if next.Buffer.Window != cur.Buffer.Window {
		if err := d.SetWindow(next.Buffer.Window); err != nil {
			slog.Error("core: hot reload failed", "key", "buffer.window", "error", err)
		} else {
			changes = append(changes, fmt.Sprintf("buffer.window: %s → %s", cur.Buffer.Window, next.Buffer.Window))
		}
	}

	if next.Buffer.AssumedFPS != cur.Buffer.AssumedFPS {
		if err := d.SetFrameRate(next.Buffer.AssumedFPS); err != nil {
			slog.Error("core: hot reload failed", "key", "buffer.assumed_fps", "error", err)
		} else {
			changes = append(changes, fmt.Sprintf("buffer.assumed_fps: %g → %g", cur.Buffer.AssumedFPS, next.Buffer.AssumedFPS))
		}
	}

	d.mu.Lock()
	d.cfg.Buffer.CalibrateRate = next.Buffer.CalibrateRate
	d.cfg.Buffer.CalibrateTolerance = next.Buffer.CalibrateTolerance
	d.cfg.Buffer.Warmup = next.Buffer.Warmup
	d.mu.Unlock()

	if !maps.Equal(next.Capture.Devices, cur.Capture.Devices) {
		if dp, ok := d.provider.(*streamcapture.DeviceProvider); ok {
			devices := make(map[capture.Position]string, len(next.Capture.Devices))
			for name, dev := range next.Capture.Devices {
				devices[capture.Position(name)] = dev
			}
			dp.SetDevices(devices)
			changes = append(changes, "capture.devices")
		}
		d.mu.Lock()
		d.cfg.Capture.Devices = maps.Clone(next.Capture.Devices)
		d.mu.Unlock()
	}

	if next.Capture.Position != cur.Capture.Position {
		if err := d.SwitchCamera(context.Background(), next.Capture.Position); err != nil {
			slog.Error("core: hot reload failed", "key", "capture.position", "error", err)
		} else {
			changes = append(changes, fmt.Sprintf("capture.position: %s → %s", cur.Capture.Position, next.Capture.Position))
		}
	}

	if next.Logging.Level != cur.Logging.Level && d.levelVar != nil {
		if lvl, err := logging.ParseLevel(next.Logging.Level); err == nil {
			d.levelVar.Set(lvl)
			d.mu.Lock()
			d.cfg.Logging.Level = next.Logging.Level
			d.mu.Unlock()
			changes = append(changes, fmt.Sprintf("logging.level: %s → %s", cur.Logging.Level, next.Logging.Level))
		}
	}

	if len(changes) == 0 {
		slog.Debug("core: config reloaded, nothing to apply")
		return
	}
	slog.Info("core: config hot reloaded", "changes", strings.Join(changes, ", "))
}

func snapshotConfig(cfg *config.Config) config.Config {
	c := *cfg
	c.Capture.Devices = maps.Clone(cfg.Capture.Devices)
	return c
}
