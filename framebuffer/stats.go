package framebuffer

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of a Buffer.
type Stats struct {
	// Appended is the number of frames accepted by Append
	Appended uint64
	// Rejected is the number of frames refused with ErrOutOfOrderFrame
	Rejected uint64
	// Evicted is the number of frames dropped from the front (window overflow,
	// window shrink or Reset)
	Evicted uint64

	// Retained is the current frame count
	Retained int
	// Capacity is the current maximum frame count
	Capacity int
	// Window is the configured retention window
	Window time.Duration
	// FrameRate is the assumed frame rate
	FrameRate float64

	// Span is the time between the oldest and newest retained frames
	Span time.Duration
	// Drift is Span minus Window once the buffer is full, zero before that.
	// Positive drift means the camera is slower than the assumed rate and the
	// buffer holds more than Window of video; negative means faster.
	Drift time.Duration
}

// IsFull reports whether the retained count has reached capacity.
func (s Stats) IsFull() bool {
	return s.Retained >= s.Capacity
}

// Stats returns counters and window geometry.
//
// Counters are read atomically; geometry is read under the buffer lock so
// Retained, Capacity and Span are mutually consistent.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		Retained:  b.frames.len(),
		Capacity:  b.capacity,
		Window:    b.window,
		FrameRate: b.fps,
	}
	if s.Retained > 1 {
		s.Span = b.frames.back().Timestamp - b.frames.at(0).Timestamp
	}
	b.mu.Unlock()

	// n frames cover n periods: first-to-last span plus one period.
	if s.IsFull() && s.Retained > 1 {
		period := time.Duration(float64(time.Second) / s.FrameRate)
		s.Drift = s.Span + period - s.Window
	}

	s.Appended = atomic.LoadUint64(&b.appended)
	s.Rejected = atomic.LoadUint64(&b.rejected)
	s.Evicted = atomic.LoadUint64(&b.evicted)
	return s
}
