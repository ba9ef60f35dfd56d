package framebuffer

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultWindow is the retention window used by Default.
	DefaultWindow = 5 * time.Second
	// DefaultFrameRate is the assumed capture rate used by Default.
	DefaultFrameRate = 30.0

	// MaxCapacity bounds window × rate. Storage grows with retained frames,
	// not with capacity.
	MaxCapacity = 1 << 24

	// capacityEpsilon absorbs float error in window × rate so exact products
	// (0.1s × 30 = 3) are not rounded up by ceil.
	capacityEpsilon = 1e-9
)

// Buffer is a bounded, time-windowed frame store.
//
// The zero value is not usable; construct with New or Default.
type Buffer struct {
	mu       sync.Mutex
	frames   ring
	window   time.Duration
	fps      float64
	capacity int
	last     time.Duration
	hasLast  bool

	// Statistics (atomic, readable without mu)
	appended uint64
	rejected uint64
	evicted  uint64
}

// New creates a Buffer retaining window worth of frames at an assumed fps.
//
// Returns ErrInvalidWindow for window ≤ 0, ErrInvalidFrameRate for a
// non-positive or non-finite fps and ErrCapacityTooLarge when window × fps
// exceeds MaxCapacity.
func New(window time.Duration, fps float64) (*Buffer, error) {
	capacity, err := capacityFor(window, fps)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		window:   window,
		fps:      fps,
		capacity: capacity,
	}, nil
}

// Config configures a Buffer. Zero fields take DefaultWindow and
// DefaultFrameRate.
type Config struct {
	Window    time.Duration
	FrameRate float64
}

// NewWithConfig creates a Buffer from cfg after filling defaults.
func NewWithConfig(cfg Config) (*Buffer, error) {
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	return New(cfg.Window, cfg.FrameRate)
}

// Default creates a Buffer with a 5 second window at an assumed 30 fps.
func Default() *Buffer {
	b, err := New(DefaultWindow, DefaultFrameRate)
	if err != nil {
		panic(err) // constants are valid
	}
	return b
}

// Append adds frame to the back of the window and evicts from the front
// until the retained count fits the capacity.
//
// Returns ErrOutOfOrderFrame (wrapped) when frame.Timestamp is not after the
// last accepted timestamp; the buffer is left unchanged in that case.
//
// Latency: O(1) amortized, no I/O, no allocation once the ring has grown to
// capacity.
func (b *Buffer) Append(frame Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasLast && frame.Timestamp <= b.last {
		atomic.AddUint64(&b.rejected, 1)
		return fmt.Errorf("%w: timestamp %v not after %v", ErrOutOfOrderFrame, frame.Timestamp, b.last)
	}

	b.frames.pushBack(frame)
	b.last = frame.Timestamp
	b.hasLast = true
	atomic.AddUint64(&b.appended, 1)

	b.evictLocked()
	return nil
}

// SetWindow changes the retention window.
//
// A shrink evicts the oldest frames immediately. A grow keeps the current
// contents; the window fills up over subsequent appends. Calling it twice
// with the same duration has the same effect as calling it once.
func (b *Buffer) SetWindow(window time.Duration) error {
	b.mu.Lock()
	capacity, err := capacityFor(window, b.fps)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	old := b.window
	b.window = window
	b.resizeLocked(capacity)
	retained := b.frames.len()
	b.mu.Unlock()

	if old != window {
		slog.Info("framebuffer: window updated",
			"old_window", old,
			"new_window", window,
			"capacity", capacity,
			"retained", retained,
		)
	}
	return nil
}

// SetFrameRate changes the assumed frame rate used to derive capacity.
//
// Same shrink/grow semantics as SetWindow.
func (b *Buffer) SetFrameRate(fps float64) error {
	b.mu.Lock()
	capacity, err := capacityFor(b.window, fps)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	old := b.fps
	b.fps = fps
	b.resizeLocked(capacity)
	retained := b.frames.len()
	b.mu.Unlock()

	if old != fps {
		slog.Info("framebuffer: assumed frame rate updated",
			"old_fps", old,
			"new_fps", fps,
			"capacity", capacity,
			"retained", retained,
		)
	}
	return nil
}

// Snapshot returns a copy of the retained frames, oldest first.
//
// The slice is owned by the caller. Frame payloads are shared and must be
// treated as read-only.
func (b *Buffer) Snapshot() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.frames.copyTo(make([]Frame, 0, b.frames.len()), 0)
}

// SnapshotSince returns the retained frames whose timestamp lies within d of
// the newest frame, oldest first. Returns nil for d ≤ 0 or an empty buffer.
func (b *Buffer) SnapshotSince(d time.Duration) []Frame {
	if d <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.frames.len()
	if n == 0 {
		return nil
	}

	cutoff := b.frames.back().Timestamp - d
	from := n
	for from > 0 && b.frames.at(from-1).Timestamp >= cutoff {
		from--
	}

	return b.frames.copyTo(make([]Frame, 0, n-from), from)
}

// SnapshotDelayed returns the retained frames with after < Timestamp ≤
// newest-delay, oldest first. Only the matching range is copied.
func (b *Buffer) SnapshotDelayed(after, delay time.Duration) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.frames.len()
	if n == 0 {
		return nil
	}

	target := b.frames.back().Timestamp - delay
	from := sort.Search(n, func(i int) bool { return b.frames.at(i).Timestamp > after })
	to := sort.Search(n, func(i int) bool { return b.frames.at(i).Timestamp > target })
	if from >= to {
		return nil
	}

	out := make([]Frame, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, b.frames.at(i))
	}
	return out
}

// Latest returns the newest retained frame.
func (b *Buffer) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frames.len() == 0 {
		return Frame{}, false
	}
	return b.frames.back(), true
}

// Reset drops every retained frame and forgets the last accepted timestamp,
// so the next Append may start a new timestamp epoch.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.frames.len()
	b.frames.clear()
	b.hasLast = false
	b.last = 0
	atomic.AddUint64(&b.evicted, uint64(n))
}

// Len returns the number of retained frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames.len()
}

// Capacity returns the current maximum retained frame count.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Window returns the configured retention window.
func (b *Buffer) Window() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

// FrameRate returns the assumed frame rate.
func (b *Buffer) FrameRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fps
}

// resizeLocked applies a new capacity and evicts any excess. Caller holds mu.
func (b *Buffer) resizeLocked(capacity int) {
	b.capacity = capacity
	b.evictLocked()
	b.frames.compact(capacity)
}

// evictLocked pops from the front until the count fits. Caller holds mu.
func (b *Buffer) evictLocked() {
	var n uint64
	for b.frames.len() > b.capacity {
		b.frames.popFront()
		n++
	}
	if n > 0 {
		atomic.AddUint64(&b.evicted, n)
	}
}

// capacityFor derives the frame capacity for window at fps.
func capacityFor(window time.Duration, fps float64) (int, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return 0, fmt.Errorf("%w: %v (must be > 0)", ErrInvalidFrameRate, fps)
	}
	if window <= 0 {
		return 0, fmt.Errorf("%w: %v (must be > 0)", ErrInvalidWindow, window)
	}

	frames := window.Seconds() * fps
	if frames > MaxCapacity {
		return 0, fmt.Errorf("%w: %v at %.2f fps needs %.0f frames (max %d)",
			ErrCapacityTooLarge, window, fps, frames, MaxCapacity)
	}

	capacity := int(math.Ceil(frames - capacityEpsilon))
	if capacity < 1 {
		capacity = 1
	}
	return capacity, nil
}
