package capture

import (
	"context"
	"errors"

	"github.com/e7canasta/delaycam/framebuffer"
)

var (
	// ErrDeviceUnavailable is returned when no physical source matches the
	// requested position. It is recoverable: the caller may keep the previous
	// source or retry.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrControllerClosed is returned by Reconfigure after Close.
	ErrControllerClosed = errors.New("capture: controller closed")
)

// Sink receives frames from the active source. *framebuffer.Buffer
// implements it.
type Sink interface {
	Append(frame framebuffer.Frame) error
}

// EmitFunc hands one captured frame to the controller. Sources call it
// serially from their delivery goroutine and must not retain the frame
// afterwards.
type EmitFunc func(frame framebuffer.Frame)

// Source is one video-producing device.
//
// Implementations must guarantee:
//   - Start returns once frames are flowing (or with an error, leaving
//     nothing running)
//   - emit is never called after Stop returns
//   - Stop is idempotent
//
// Frames passed to emit do not need a Timestamp; the controller stamps them.
type Source interface {
	// Start begins delivery. ctx bounds the lifetime of the source: when it is
	// cancelled the source stops producing.
	Start(ctx context.Context, emit EmitFunc) error

	// Stop halts delivery and releases the device.
	Stop() error

	// Position reports which device this source captures from.
	Position() Position
}

// Provider resolves positions to sources.
type Provider interface {
	// Open returns an unstarted Source for pos, or an error wrapping
	// ErrDeviceUnavailable when no device matches. Open must not acquire the
	// device; that happens in Source.Start.
	Open(pos Position) (Source, error)

	// Available lists the positions that currently resolve to a device.
	Available() []Position
}
