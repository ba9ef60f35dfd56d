// Package capture owns the single active frame producer feeding a buffer.
//
// # Overview
//
// A Controller holds at most one running Source at a time and forwards every
// frame it produces into a Sink (normally a *framebuffer.Buffer):
//
//	Provider.Open(pos) → Source.Start(ctx, emit) → gate → clock → Sink.Append
//
// # Switching Protocol
//
// Reconfigure moves the controller through three states:
//
//	Stopped ──Reconfigure──▶ Configuring ──Start ok──▶ Running
//	   ▲                          │                       │
//	   └───────Start failed───────┘◀──────Reconfigure─────┘
//
// The requested device is looked up first. If the Provider reports
// ErrDeviceUnavailable nothing is torn down: a running source keeps running
// and the state is unchanged. Otherwise the current source's gate is closed
// (no further frame from it can reach the sink), the source is stopped, and
// the new source is started behind a fresh gate. Two sources never feed the
// sink at the same time.
//
// # Timestamps
//
// The controller stamps each frame from one monotonic clock shared by every
// source it runs, so timestamps keep increasing across camera switches and
// the sink never sees a switch as an out-of-order frame.
//
// # Thread Safety
//
// Reconfigure and Stop are serialized by the controller. The delivery path
// only takes the per-source gate's read lock, so a slow Reconfigure (device
// start can take seconds) never blocks frames already flowing, and State,
// Position and Stats never block on a switch in progress.
package capture
