package warmup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/delaycam/framebuffer"
)

// FrameSource is the part of framebuffer.Buffer a measurement needs.
type FrameSource interface {
	SnapshotSince(d time.Duration) []framebuffer.Frame
}

// Measure waits for duration, then analyses the timestamps of the frames
// retained over that period.
//
// Returns an error if ctx ends first or fewer than 2 frames were captured.
// An unstable stream is reported in Stats.IsStable, not as an error; the
// caller decides whether to calibrate.
func Measure(ctx context.Context, src FrameSource, duration time.Duration) (Stats, error) {
	slog.Info("warmup: measuring frame rate", "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Stats{}, fmt.Errorf("warmup: %w", ctx.Err())
	case <-timer.C:
	}

	frames := src.SnapshotSince(duration)
	if len(frames) < 2 {
		return Stats{}, fmt.Errorf(
			"warmup: not enough frames received (got %d, need at least 2)",
			len(frames),
		)
	}

	timestamps := make([]time.Duration, len(frames))
	for i, f := range frames {
		timestamps[i] = f.Timestamp
	}
	stats := CalculateFPSStats(timestamps)

	slog.Info("warmup: frame rate measured",
		"frames", stats.FramesReceived,
		"span", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)

	return stats, nil
}
