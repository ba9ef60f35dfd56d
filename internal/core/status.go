package core

import (
	"context"
	"time"

	"github.com/e7canasta/delaycam/internal/tui"
)

// Status returns the status document shared by /status, get_status and the
// periodic MQTT status.
func (d *Delaycam) Status() map[string]any {
	b := d.buffer.Stats()
	c := d.ctrl.Stats()

	d.mu.RLock()
	instanceID := d.cfg.InstanceID
	started := d.started
	lastWarmup := d.lastWarmup
	d.mu.RUnlock()

	available := make([]string, 0)
	for _, pos := range d.ctrl.Available() {
		available = append(available, pos.String())
	}

	doc := map[string]any{
		"instance_id": instanceID,
		"state":       c.State.String(),
		"position":    c.Position.String(),
		"available":   available,
		"buffer": map[string]any{
			"retained":    b.Retained,
			"capacity":    b.Capacity,
			"window":      b.Window.String(),
			"assumed_fps": b.FrameRate,
			"span":        b.Span.String(),
			"drift":       b.Drift.String(),
			"appended":    b.Appended,
			"rejected":    b.Rejected,
			"evicted":     b.Evicted,
		},
		"capture": map[string]any{
			"switches":         c.Switches,
			"failed_switches":  c.FailedSwitches,
			"frames_delivered": c.FramesDelivered,
			"frames_rejected":  c.FramesRejected,
			"frames_discarded": c.FramesDiscarded,
		},
	}
	if !started.IsZero() {
		doc["uptime_seconds"] = int64(time.Since(started).Seconds())
	}
	if !c.RunningSince.IsZero() {
		doc["running_seconds"] = int64(time.Since(c.RunningSince).Seconds())
	}
	if lastWarmup != nil {
		doc["warmup"] = map[string]any{
			"fps_mean":   lastWarmup.FPSMean,
			"fps_stddev": lastWarmup.FPSStdDev,
			"jitter":     lastWarmup.JitterMean,
			"stable":     lastWarmup.IsStable,
		}
	}
	if d.mqtt != nil {
		doc["mqtt_connected"] = d.mqtt.IsConnected()
	}
	if d.server != nil {
		doc["viewers"] = d.server.Viewers()
	}
	return doc
}

// Panel adapts the Delaycam to the terminal UI.
func (d *Delaycam) Panel() tui.Controller {
	return panel{d: d}
}

type panel struct {
	d *Delaycam
}

func (p panel) Status() tui.Status {
	b := p.d.buffer.Stats()
	c := p.d.ctrl.Stats()
	return tui.Status{
		State:     c.State.String(),
		Position:  c.Position.String(),
		Retained:  b.Retained,
		Capacity:  b.Capacity,
		Window:    b.Window,
		FrameRate: b.FrameRate,
		Drift:     b.Drift,
		Delivered: c.FramesDelivered,
		Rejected:  c.FramesRejected,
	}
}

func (p panel) SetWindow(window time.Duration) error {
	return p.d.SetWindow(window)
}

func (p panel) ToggleCamera(ctx context.Context) (string, error) {
	return p.d.ToggleCamera(ctx)
}
