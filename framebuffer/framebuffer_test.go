package framebuffer_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/e7canasta/delaycam/framebuffer"
)

// frameAt builds the i-th frame of a 30fps stream starting at t=0.
func frameAt(i int) framebuffer.Frame {
	return framebuffer.Frame{
		Timestamp: time.Duration(i) * time.Second / 30,
		Seq:       uint64(i),
		Data:      []byte{byte(i)},
	}
}

func fill(t *testing.T, buf *framebuffer.Buffer, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		if err := buf.Append(frameAt(i)); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}
}

func TestCapacityRounding(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		fps    float64
		want   int
	}{
		{"default 5s@30", 5 * time.Second, 30, 150},
		{"2s@30", 2 * time.Second, 30, 60},
		{"exact product is not rounded up", 100 * time.Millisecond, 30, 3},
		{"fractional rate rounds up", time.Second, 29.97, 30},
		{"partial frame rounds up", 50 * time.Millisecond, 30, 2},
		{"tiny window keeps one frame", time.Nanosecond, 30, 1},
		{"low rate", 10 * time.Second, 0.5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := framebuffer.New(tt.window, tt.fps)
			if err != nil {
				t.Fatalf("New(%v, %v) failed: %v", tt.window, tt.fps, err)
			}
			if got := buf.Capacity(); got != tt.want {
				t.Errorf("Capacity() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		window  time.Duration
		fps     float64
		wantErr error
	}{
		{"zero window", 0, 30, framebuffer.ErrInvalidWindow},
		{"negative window", -time.Second, 30, framebuffer.ErrInvalidWindow},
		{"zero fps", time.Second, 0, framebuffer.ErrInvalidFrameRate},
		{"negative fps", time.Second, -1, framebuffer.ErrInvalidFrameRate},
		{"NaN fps", time.Second, math.NaN(), framebuffer.ErrInvalidFrameRate},
		{"Inf fps", time.Second, math.Inf(1), framebuffer.ErrInvalidFrameRate},
		{"capacity too large", 1000 * time.Hour, 30, framebuffer.ErrCapacityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := framebuffer.New(tt.window, tt.fps)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New(%v, %v) error = %v, want %v", tt.window, tt.fps, err, tt.wantErr)
			}
			if buf != nil {
				t.Errorf("New() returned non-nil buffer on error")
			}
		})
	}
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      framebuffer.Config
		capacity int
		wantErr  error
	}{
		{"defaults", framebuffer.Config{}, 150, nil},
		{"window only", framebuffer.Config{Window: 2 * time.Second}, 60, nil},
		{"rate only", framebuffer.Config{FrameRate: 10}, 50, nil},
		{"negative window", framebuffer.Config{Window: -time.Second}, 0, framebuffer.ErrInvalidWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := framebuffer.NewWithConfig(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewWithConfig(%+v) error = %v, want %v", tt.cfg, err, tt.wantErr)
			}
			if err == nil && buf.Capacity() != tt.capacity {
				t.Errorf("Capacity() = %d, want %d", buf.Capacity(), tt.capacity)
			}
		})
	}
}

// TestAppendRetainsMostRecent validates the steady-state eviction policy.
//
// Scenario: window 5s @ 30fps (capacity 150), append 200 frames.
// Expected: frames 50..199 retained, oldest first.
func TestAppendRetainsMostRecent(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 200)

	frames := buf.Snapshot()
	if len(frames) != 150 {
		t.Fatalf("len(Snapshot()) = %d, want 150", len(frames))
	}
	for i, f := range frames {
		if want := uint64(50 + i); f.Seq != want {
			t.Fatalf("frames[%d].Seq = %d, want %d", i, f.Seq, want)
		}
	}

	stats := buf.Stats()
	if stats.Appended != 200 || stats.Evicted != 50 || stats.Rejected != 0 {
		t.Errorf("Stats() = %+v, want appended=200 evicted=50 rejected=0", stats)
	}
}

// TestSetWindowShrinksImmediately validates that a shrink evicts right away.
//
// Scenario: 150 frames retained, SetWindow(2s).
// Expected: capacity 60, the 60 most recent frames (90..149) retained.
func TestSetWindowShrinksImmediately(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 150)

	if err := buf.SetWindow(2 * time.Second); err != nil {
		t.Fatalf("SetWindow(2s) failed: %v", err)
	}

	if got := buf.Capacity(); got != 60 {
		t.Errorf("Capacity() = %d, want 60", got)
	}
	frames := buf.Snapshot()
	if len(frames) != 60 {
		t.Fatalf("len(Snapshot()) = %d, want 60", len(frames))
	}
	if frames[0].Seq != 90 || frames[59].Seq != 149 {
		t.Errorf("retained seq range = %d..%d, want 90..149", frames[0].Seq, frames[59].Seq)
	}
}

func TestSetWindowGrowKeepsContents(t *testing.T) {
	buf, err := framebuffer.New(time.Second, 30)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	fill(t, buf, 0, 45)

	if err := buf.SetWindow(3 * time.Second); err != nil {
		t.Fatalf("SetWindow(3s) failed: %v", err)
	}
	if got := buf.Len(); got != 30 {
		t.Errorf("Len() after grow = %d, want 30 (evicted frames are not recoverable)", got)
	}

	fill(t, buf, 45, 200)
	if got := buf.Len(); got != 90 {
		t.Errorf("Len() after refill = %d, want 90", got)
	}
}

func TestSetWindowIdempotent(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 150)

	if err := buf.SetWindow(2 * time.Second); err != nil {
		t.Fatalf("SetWindow() failed: %v", err)
	}
	once := buf.Snapshot()
	statsOnce := buf.Stats()

	if err := buf.SetWindow(2 * time.Second); err != nil {
		t.Fatalf("SetWindow() second call failed: %v", err)
	}
	twice := buf.Snapshot()
	statsTwice := buf.Stats()

	if len(once) != len(twice) {
		t.Fatalf("len after second call = %d, want %d", len(twice), len(once))
	}
	for i := range once {
		if once[i].Seq != twice[i].Seq {
			t.Fatalf("frame %d differs: %d vs %d", i, once[i].Seq, twice[i].Seq)
		}
	}
	if statsOnce.Evicted != statsTwice.Evicted {
		t.Errorf("Evicted changed on idempotent call: %d → %d", statsOnce.Evicted, statsTwice.Evicted)
	}
}

func TestSetWindowLongWindow(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 10)

	if err := buf.SetWindow(time.Hour); err != nil {
		t.Fatalf("SetWindow(1h) error = %v", err)
	}
	if got := buf.Capacity(); got != 108000 {
		t.Errorf("Capacity() = %d, want 108000", got)
	}
	if got := buf.Len(); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}

	err := buf.SetWindow(1000 * time.Hour)
	if !errors.Is(err, framebuffer.ErrCapacityTooLarge) {
		t.Fatalf("SetWindow(1000h) error = %v, want ErrCapacityTooLarge", err)
	}
	if errors.Is(err, framebuffer.ErrInvalidWindow) {
		t.Errorf("SetWindow(1000h) error matches ErrInvalidWindow")
	}
	if buf.Window() != time.Hour {
		t.Errorf("Window() = %v, want 1h", buf.Window())
	}
}

func TestSetWindowInvalidLeavesStateUnchanged(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 100)

	for _, d := range []time.Duration{0, -time.Second} {
		err := buf.SetWindow(d)
		if !errors.Is(err, framebuffer.ErrInvalidWindow) {
			t.Errorf("SetWindow(%v) error = %v, want ErrInvalidWindow", d, err)
		}
	}

	if buf.Window() != framebuffer.DefaultWindow {
		t.Errorf("Window() = %v, want %v", buf.Window(), framebuffer.DefaultWindow)
	}
	if buf.Capacity() != 150 || buf.Len() != 100 {
		t.Errorf("capacity/len = %d/%d, want 150/100", buf.Capacity(), buf.Len())
	}
}

// TestAppendOutOfOrder validates rejection of non-increasing timestamps.
//
// Contract:
//   - timestamp == last → ErrOutOfOrderFrame
//   - timestamp < last  → ErrOutOfOrderFrame
//   - buffer content and counters other than Rejected unchanged
func TestAppendOutOfOrder(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 10)
	before := buf.Snapshot()

	tests := []struct {
		name string
		ts   time.Duration
	}{
		{"duplicate timestamp", frameAt(9).Timestamp},
		{"older timestamp", frameAt(3).Timestamp},
		{"before epoch", -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buf.Append(framebuffer.Frame{Timestamp: tt.ts, Seq: 999})
			if !errors.Is(err, framebuffer.ErrOutOfOrderFrame) {
				t.Fatalf("Append() error = %v, want ErrOutOfOrderFrame", err)
			}
		})
	}

	after := buf.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("len changed after rejected appends: %d → %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Seq != after[i].Seq {
			t.Errorf("frame %d changed: %d → %d", i, before[i].Seq, after[i].Seq)
		}
	}

	stats := buf.Stats()
	if stats.Rejected != uint64(len(tests)) || stats.Appended != 10 {
		t.Errorf("Stats() rejected=%d appended=%d, want %d/10", stats.Rejected, stats.Appended, len(tests))
	}

	// The buffer still accepts the next in-order frame
	if err := buf.Append(frameAt(10)); err != nil {
		t.Errorf("Append(next) after rejections failed: %v", err)
	}
}

func TestFirstAppendAcceptsAnyTimestamp(t *testing.T) {
	buf := framebuffer.Default()
	if err := buf.Append(framebuffer.Frame{Timestamp: -5 * time.Second}); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}
	if err := buf.Append(framebuffer.Frame{Timestamp: 0}); err != nil {
		t.Fatalf("second Append() failed: %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 5)

	snap := buf.Snapshot()
	snap[0].Seq = 12345
	snap = append(snap[:1], snap[3:]...)
	_ = snap

	again := buf.Snapshot()
	if len(again) != 5 || again[0].Seq != 0 {
		t.Errorf("Snapshot() aliased internal state: len=%d first=%d", len(again), again[0].Seq)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	buf := framebuffer.Default()
	if frames := buf.Snapshot(); len(frames) != 0 {
		t.Errorf("Snapshot() on empty buffer returned %d frames", len(frames))
	}
	if _, ok := buf.Latest(); ok {
		t.Error("Latest() on empty buffer reported a frame")
	}
}

func TestSnapshotSince(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 150) // 0 .. 149/30 s

	tests := []struct {
		name      string
		d         time.Duration
		wantLen   int
		wantFirst uint64
	}{
		{"last second", time.Second, 31, 119},
		{"exactly one period", time.Second / 30, 2, 148},
		{"less than a period", time.Millisecond, 1, 149},
		{"longer than retained", time.Minute, 150, 0},
		{"zero", 0, 0, 0},
		{"negative", -time.Second, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := buf.SnapshotSince(tt.d)
			if len(frames) != tt.wantLen {
				t.Fatalf("len(SnapshotSince(%v)) = %d, want %d", tt.d, len(frames), tt.wantLen)
			}
			if tt.wantLen > 0 {
				if frames[0].Seq != tt.wantFirst {
					t.Errorf("first seq = %d, want %d", frames[0].Seq, tt.wantFirst)
				}
				if frames[len(frames)-1].Seq != 149 {
					t.Errorf("last seq = %d, want 149", frames[len(frames)-1].Seq)
				}
			}
		})
	}
}

func TestLatest(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 42)

	f, ok := buf.Latest()
	if !ok || f.Seq != 41 {
		t.Errorf("Latest() = (%d, %v), want (41, true)", f.Seq, ok)
	}
}

func TestSetFrameRate(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 150)

	if err := buf.SetFrameRate(15); err != nil {
		t.Fatalf("SetFrameRate(15) failed: %v", err)
	}
	if buf.Capacity() != 75 || buf.Len() != 75 {
		t.Errorf("capacity/len = %d/%d, want 75/75", buf.Capacity(), buf.Len())
	}
	if buf.FrameRate() != 15 {
		t.Errorf("FrameRate() = %v, want 15", buf.FrameRate())
	}

	if err := buf.SetFrameRate(0); !errors.Is(err, framebuffer.ErrInvalidFrameRate) {
		t.Errorf("SetFrameRate(0) error = %v, want ErrInvalidFrameRate", err)
	}
	if buf.FrameRate() != 15 {
		t.Errorf("FrameRate() changed after invalid call: %v", buf.FrameRate())
	}
}

func TestReset(t *testing.T) {
	buf := framebuffer.Default()
	fill(t, buf, 0, 20)

	buf.Reset()

	if buf.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", buf.Len())
	}
	// A new epoch may start below the previous last timestamp
	if err := buf.Append(frameAt(0)); err != nil {
		t.Errorf("Append() after Reset failed: %v", err)
	}
	if got := buf.Stats().Evicted; got != 20 {
		t.Errorf("Evicted = %d, want 20", got)
	}
}

// TestStatsDrift validates that drift reflects a rate mismatch.
//
// Scenario:
//   - assumed 30fps, camera delivers exactly 30fps → drift ≈ 0
//   - assumed 30fps, camera delivers 15fps → a full buffer spans ~10s → drift ≈ +5s
func TestStatsDrift(t *testing.T) {
	t.Run("matching rate", func(t *testing.T) {
		buf := framebuffer.Default()
		fill(t, buf, 0, 300)

		stats := buf.Stats()
		if !stats.IsFull() {
			t.Fatalf("buffer not full: %+v", stats)
		}
		if d := stats.Drift; d < -time.Millisecond || d > time.Millisecond {
			t.Errorf("Drift = %v, want ~0", d)
		}
		t.Logf("span=%v drift=%v", stats.Span, stats.Drift)
	})

	t.Run("slow camera", func(t *testing.T) {
		buf := framebuffer.Default()
		for i := 0; i < 300; i++ {
			ts := time.Duration(i) * time.Second / 15
			if err := buf.Append(framebuffer.Frame{Timestamp: ts}); err != nil {
				t.Fatalf("Append() failed: %v", err)
			}
		}

		stats := buf.Stats()
		// 150 frames at 15fps span 149/15 s, plus one assumed period
		want := 149*time.Second/15 + time.Second/30 - 5*time.Second
		if d := stats.Drift - want; d < -time.Millisecond || d > time.Millisecond {
			t.Errorf("Drift = %v, want ~%v", stats.Drift, want)
		}
	})

	t.Run("not full", func(t *testing.T) {
		buf := framebuffer.Default()
		fill(t, buf, 0, 10)
		if d := buf.Stats().Drift; d != 0 {
			t.Errorf("Drift on partial buffer = %v, want 0", d)
		}
	})
}

// TestConcurrentAccess exercises Append, Snapshot and SetWindow from separate
// goroutines. Run with -race.
//
// Invariants checked by the reader:
//   - snapshot length never exceeds the largest capacity in use
//   - timestamps in a snapshot are strictly increasing
func TestConcurrentAccess(t *testing.T) {
	buf := framebuffer.Default()
	const total = 5000

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < total; i++ {
			if err := buf.Append(frameAt(i)); err != nil {
				t.Errorf("Append(%d) failed: %v", i, err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		windows := []time.Duration{time.Second, 5 * time.Second, 2 * time.Second}
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := buf.SetWindow(windows[i%len(windows)]); err != nil {
				t.Errorf("SetWindow() failed: %v", err)
				return
			}
		}
	}()

	snapshots := 0
	for {
		select {
		case <-done:
			wg.Wait()
			t.Logf("✅ %d snapshots taken during %d appends", snapshots, total)
			return
		default:
		}

		frames := buf.Snapshot()
		snapshots++
		if len(frames) > 150 {
			t.Fatalf("snapshot has %d frames, max capacity is 150", len(frames))
		}
		for i := 1; i < len(frames); i++ {
			if frames[i].Timestamp <= frames[i-1].Timestamp {
				t.Fatalf("snapshot out of order at %d: %v after %v",
					i, frames[i].Timestamp, frames[i-1].Timestamp)
			}
		}
	}
}

// TestProperty_RetainedNeverExceedsCapacity checks, for random window changes
// interleaved with appends, that the count never exceeds ceil(window × fps).
func TestProperty_RetainedNeverExceedsCapacity(t *testing.T) {
	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		buf := framebuffer.Default()
		ts := time.Duration(0)

		for step := 0; step < 500; step++ {
			if rng.Intn(20) == 0 {
				window := time.Duration(1+rng.Intn(5000)) * time.Millisecond
				if err := buf.SetWindow(window); err != nil {
					return false
				}
				if buf.Len() > buf.Capacity() {
					return false
				}
				continue
			}

			ts += time.Duration(1+rng.Intn(int(time.Second/10))) * time.Nanosecond
			if err := buf.Append(framebuffer.Frame{Timestamp: ts}); err != nil {
				return false
			}

			want := int(math.Ceil(buf.Window().Seconds()*buf.FrameRate() - 1e-9))
			if buf.Len() > want {
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 50}); err != nil {
		t.Error(err)
	}
}

// readingHandler reads the buffer from inside the log handler.
type readingHandler struct {
	buf   *framebuffer.Buffer
	mu    sync.Mutex
	calls int
}

func (h *readingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *readingHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *readingHandler) WithGroup(string) slog.Handler            { return h }

func (h *readingHandler) Handle(context.Context, slog.Record) error {
	h.buf.Len()
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return nil
}

func TestSnapshotDelayed(t *testing.T) {
	buf, err := framebuffer.New(2*time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.SnapshotDelayed(0, 0); got != nil {
		t.Errorf("empty buffer: got %d frames", len(got))
	}

	// 0.0s .. 1.9s at 10fps
	for i := 0; i < 20; i++ {
		if err := buf.Append(framebuffer.Frame{Timestamp: time.Duration(i) * 100 * time.Millisecond}); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name        string
		after       time.Duration
		delay       time.Duration
		first, last time.Duration
		count       int
	}{
		{"everything due", -1, 0, 0, 1900 * time.Millisecond, 20},
		{"delayed by 1s", -1, time.Second, 0, 900 * time.Millisecond, 10},
		{"after cursor", 500 * time.Millisecond, time.Second, 600 * time.Millisecond, 900 * time.Millisecond, 4},
		{"cursor at target", 900 * time.Millisecond, time.Second, 0, 0, 0},
		{"delay beyond window", -1, 5 * time.Second, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buf.SnapshotDelayed(tt.after, tt.delay)
			if len(got) != tt.count {
				t.Fatalf("got %d frames, want %d", len(got), tt.count)
			}
			if tt.count == 0 {
				return
			}
			if got[0].Timestamp != tt.first || got[len(got)-1].Timestamp != tt.last {
				t.Errorf("range = [%v, %v], want [%v, %v]",
					got[0].Timestamp, got[len(got)-1].Timestamp, tt.first, tt.last)
			}
		})
	}
}

func TestReconfigureLogsOutsideLock(t *testing.T) {
	buf := framebuffer.Default()
	h := &readingHandler{buf: buf}

	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	defer slog.SetDefault(prev)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.SetWindow(2 * time.Second)
		_ = buf.SetFrameRate(60)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetWindow/SetFrameRate blocked while a log handler read the buffer")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls != 2 {
		t.Errorf("handler calls = %d, want 2", h.calls)
	}
}
