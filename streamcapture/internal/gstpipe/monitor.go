package gstpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCounters holds per-category atomic counters.
type ErrorCounters struct {
	Device     uint64
	Permission uint64
	Codec      uint64
	Unknown    uint64
}

// Record increments the counter for category.
func (c *ErrorCounters) Record(category ErrorCategory) {
	switch category {
	case ErrCategoryDevice:
		atomic.AddUint64(&c.Device, 1)
	case ErrCategoryPermission:
		atomic.AddUint64(&c.Permission, 1)
	case ErrCategoryCodec:
		atomic.AddUint64(&c.Codec, 1)
	default:
		atomic.AddUint64(&c.Unknown, 1)
	}
}

// MonitorMetrics is logged alongside bus errors.
type MonitorMetrics struct {
	Device     string
	Resolution string
	FrameCount *uint64
	StartedAt  time.Time
}

// MonitorPipelineBus polls the bus until ctx ends (nil), EOS or an error.
// Non-retryable errors come back as *PermanentError.
func MonitorPipelineBus(
	ctx context.Context,
	pipeline *gst.Pipeline,
	counters *ErrorCounters,
	reconnect *ReconnectState,
	metrics *MonitorMetrics,
) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstpipe: context cancelled, stopping bus monitor")
			return nil
		default:
		}

		// Short timeout keeps shutdown responsive
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstpipe: end of stream",
				"device", metrics.Device,
				"uptime", time.Since(metrics.StartedAt),
				"frames", atomic.LoadUint64(metrics.FrameCount),
			)
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			counters.Record(category)

			slog.Error("gstpipe: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"device", metrics.Device,
				"resolution", metrics.Resolution,
				"uptime", time.Since(metrics.StartedAt),
				"frames", atomic.LoadUint64(metrics.FrameCount),
				"reconnects", atomic.LoadUint32(reconnect.Reconnects),
			)

			err := fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error())
			if !category.Retryable() {
				return &PermanentError{Err: err}
			}
			return err

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("gstpipe: pipeline state changed", "from", old, "to", next)
				if next == gst.StatePlaying {
					reconnect.Reset()
				}
			}
		}
	}
}
