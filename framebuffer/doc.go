// Package framebuffer retains the most recent window of captured video frames.
//
// # Philosophy
//
// "Keep the last N seconds, never block the producer."
//
// A Buffer sits between a single capture source and any number of readers:
//
//	capture.Source → capture.Controller → framebuffer.Buffer → Snapshot()
//	    (30fps)         (gate, clock)        ring, bounded      playback/export
//
// The producer calls Append once per captured frame. Readers call Snapshot
// (or SnapshotSince) to obtain the retained frames, oldest first. The control
// path resizes the window with SetWindow at arbitrary times.
//
// # Eviction Policy
//
// Capacity is derived from the configured window and an assumed frame rate:
//
//	capacity = ceil(window.Seconds() × fps)
//
// Eviction is by frame count, not by comparing timestamps. When the real
// capture rate differs from the assumed rate, the time span held by a full
// buffer differs from the configured window. Stats reports that span and the
// resulting Drift so callers can observe it; SetFrameRate lets a caller
// calibrate the assumed rate from a measured one.
//
// # Ordering
//
// Frames must arrive with strictly increasing timestamps. A frame whose
// timestamp is not after the last accepted one is rejected with
// ErrOutOfOrderFrame and the buffer is left untouched.
//
// # Thread Safety
//
// Every mutation and every snapshot happens under a single mutex. Append does
// bounded work only (one push, at most a handful of evictions) so the capture
// path is never held up by readers for longer than one copy of the window.
//
// # Basic Usage
//
//	buf := framebuffer.Default() // 5s @ 30fps → 150 frames
//
//	// producer
//	if err := buf.Append(frame); errors.Is(err, framebuffer.ErrOutOfOrderFrame) {
//	    // one frame dropped, nothing else to do
//	}
//
//	// control path
//	_ = buf.SetWindow(2 * time.Second) // shrinks to 60 frames immediately
//
//	// consumer
//	frames := buf.Snapshot()
package framebuffer
