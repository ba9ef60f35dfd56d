package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/framebuffer"
	"github.com/e7canasta/delaycam/internal/warmup"
)

// SetWindow changes the replay delay.
func (d *Delaycam) SetWindow(window time.Duration) error {
	old := d.buffer.Window()
	if err := d.buffer.SetWindow(window); err != nil {
		return fmt.Errorf("core: set window: %w", err)
	}

	d.mu.Lock()
	d.cfg.Buffer.Window = window
	d.mu.Unlock()

	slog.Info("core: window updated", "old", old, "new", window, "capacity", d.buffer.Capacity())
	return nil
}

// SetFrameRate changes the frame rate the buffer assumes when sizing.
func (d *Delaycam) SetFrameRate(fps float64) error {
	old := d.buffer.FrameRate()
	if err := d.buffer.SetFrameRate(fps); err != nil {
		return fmt.Errorf("core: set frame rate: %w", err)
	}

	d.mu.Lock()
	d.cfg.Buffer.AssumedFPS = fps
	d.mu.Unlock()

	slog.Info("core: assumed frame rate updated", "old", old, "new", fps, "capacity", d.buffer.Capacity())
	return nil
}

// SwitchCamera makes the camera at position the sole producer.
//
// An unavailable device leaves the current camera running. When the new
// camera fails to start, the previous one is restarted and the start error
// is still returned.
func (d *Delaycam) SwitchCamera(ctx context.Context, position string) error {
	pos, err := capture.ParsePosition(position)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}

	d.switchMu.Lock()
	defer d.switchMu.Unlock()

	prevState, prevPos := d.ctrl.State(), d.ctrl.Position()

	err = d.ctrl.Reconfigure(ctx, pos)
	if err == nil {
		d.mu.Lock()
		d.cfg.Capture.Position = pos.String()
		d.mu.Unlock()
		d.startWarmup(pos)
		return nil
	}

	if errors.Is(err, capture.ErrDeviceUnavailable) || errors.Is(err, capture.ErrControllerClosed) {
		return err
	}

	if prevState == capture.StateRunning && prevPos != pos {
		slog.Warn("core: restoring previous camera", "position", prevPos, "failed", pos)
		if restoreErr := d.ctrl.Reconfigure(context.WithoutCancel(ctx), prevPos); restoreErr != nil {
			slog.Error("core: failed to restore previous camera", "position", prevPos, "error", restoreErr)
			return errors.Join(err, restoreErr)
		}
		d.startWarmup(prevPos)
	}
	return err
}

// ToggleCamera switches between the back and front cameras.
func (d *Delaycam) ToggleCamera(ctx context.Context) (string, error) {
	next := d.ctrl.Position().Toggle()
	if err := d.SwitchCamera(ctx, next.String()); err != nil {
		return d.ctrl.Position().String(), err
	}
	return next.String(), nil
}

// Snapshot returns the frames of the last since, or everything retained when
// since is zero, along with the configured window.
func (d *Delaycam) Snapshot(since time.Duration) ([]framebuffer.Frame, time.Duration) {
	if since > 0 {
		return d.buffer.SnapshotSince(since), d.buffer.Window()
	}
	return d.buffer.Snapshot(), d.buffer.Window()
}

// Delayed returns the frames with after < timestamp ≤ newest-delay.
func (d *Delaycam) Delayed(after, delay time.Duration) []framebuffer.Frame {
	return d.buffer.SnapshotDelayed(after, delay)
}

// Window returns the configured window.
func (d *Delaycam) Window() time.Duration {
	return d.buffer.Window()
}

// Ready reports whether a camera is running.
func (d *Delaycam) Ready() bool {
	return d.ctrl.State() == capture.StateRunning
}

// positionFrames restricts a measurement to one camera's frames.
type positionFrames struct {
	buffer *framebuffer.Buffer
	source string
}

func (p positionFrames) SnapshotSince(since time.Duration) []framebuffer.Frame {
	frames := p.buffer.SnapshotSince(since)
	out := frames[:0]
	for _, f := range frames {
		if f.Source == p.source {
			out = append(out, f)
		}
	}
	return out
}

// startWarmup measures the new camera's rate in the background, replacing
// any measurement still in progress.
func (d *Delaycam) startWarmup(pos capture.Position) {
	d.mu.RLock()
	duration := d.cfg.Buffer.Warmup
	d.mu.RUnlock()
	if duration <= 0 {
		return
	}

	d.warmupMu.Lock()
	if d.warmupCancel != nil {
		d.warmupCancel()
	}
	ctx, cancel := context.WithCancel(d.baseCtx)
	d.warmupCancel = cancel
	d.warmupMu.Unlock()

	d.background.Go(func() {
		defer cancel()
		stats, err := warmup.Measure(ctx, positionFrames{buffer: d.buffer, source: pos.String()}, duration)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("core: warmup failed", "position", pos, "error", err)
			}
			return
		}
		d.applyWarmup(pos, stats)
	})
}

// applyWarmup records a measurement and, when calibration is on, adopts the
// measured rate.
func (d *Delaycam) applyWarmup(pos capture.Position, stats warmup.Stats) {
	d.mu.Lock()
	d.lastWarmup = &stats
	calibrate := d.cfg.Buffer.CalibrateRate
	tolerance := d.cfg.Buffer.CalibrateTolerance
	d.mu.Unlock()

	assumed := d.buffer.FrameRate()
	drift := warmup.Drift(stats, assumed)
	slog.Info("core: camera rate measured",
		"position", pos,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"assumed_fps", assumed,
		"drift", fmt.Sprintf("%+.1f%%", drift*100),
		"stable", stats.IsStable,
	)

	if !calibrate {
		return
	}
	rate := warmup.CalibratedRate(stats, assumed, tolerance)
	if rate == assumed {
		return
	}
	if err := d.SetFrameRate(rate); err != nil {
		slog.Warn("core: calibration rejected", "fps", rate, "error", err)
	}
}
