package gstpipe

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/delaycam/framebuffer"
)

// CallbackContext holds the state shared with the appsink callback.
type CallbackContext struct {
	FrameChan     chan<- framebuffer.Frame
	FrameCounter  *uint64 // atomic, sequence numbers
	BytesRead     *uint64 // atomic
	FramesDropped *uint64 // atomic, channel full
	Width         int
	Height        int
	Format        string
	Source        string
}

// OnNewSample copies the mapped buffer into a frame and hands it off without
// blocking. Timestamps are left zero; the capture controller stamps frames.
//
// A bad sample is skipped rather than ending the stream.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstpipe: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstpipe: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstpipe: empty buffer received")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer after we return
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := NewFrame(ctx, frameData)
	Dispatch(ctx, frame)
	return gst.FlowOK
}

// NewFrame assigns the next sequence number and a trace ID to data.
func NewFrame(ctx *CallbackContext, data []byte) framebuffer.Frame {
	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(data)))

	return framebuffer.Frame{
		Seq:     seq,
		Width:   ctx.Width,
		Height:  ctx.Height,
		Format:  ctx.Format,
		Data:    data,
		Source:  ctx.Source,
		TraceID: uuid.New().String(),
	}
}

// Dispatch sends frame on the context channel, dropping it when full.
func Dispatch(ctx *CallbackContext, frame framebuffer.Frame) bool {
	select {
	case ctx.FrameChan <- frame:
		return true
	default:
		atomic.AddUint64(ctx.FramesDropped, 1)
		slog.Debug("gstpipe: dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
		return false
	}
}
