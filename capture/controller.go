package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/delaycam/framebuffer"
)

// StateObserver is notified after every state transition. It runs on the
// goroutine performing the transition and must not call back into the
// controller.
type StateObserver func(state State, pos Position, err error)

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the controller's timestamp clock.
func WithClock(clock *Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn StateObserver) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// ControllerStats contains switching and delivery counters.
type ControllerStats struct {
	State    State
	Position Position
	// Switches counts successful Reconfigure calls
	Switches uint64
	// FailedSwitches counts Reconfigure calls that returned an error
	FailedSwitches uint64
	// FramesDelivered counts frames accepted by the sink
	FramesDelivered uint64
	// FramesRejected counts frames the sink refused (e.g. out of order)
	FramesRejected uint64
	// FramesDiscarded counts frames emitted by a source after its gate closed
	FramesDiscarded uint64
	// RunningSince is when the current source started (zero if stopped)
	RunningSince time.Time
}

// Controller enforces the single-producer discipline between sources and a
// sink.
type Controller struct {
	provider  Provider
	sink      Sink
	clock     *Clock
	observers []StateObserver

	// Lifecycle (Reconfigure/Stop/Close are serialized by mu)
	mu      sync.Mutex
	baseCtx context.Context
	closeFn context.CancelFunc
	current Source
	gate    *gate
	cancel  context.CancelFunc
	closed  bool

	// Observable status (separate lock so readers never wait on a switch)
	statusMu     sync.RWMutex
	state        State
	position     Position
	runningSince time.Time

	// Statistics (atomic)
	switches       uint64
	failedSwitches uint64
	delivered      uint64
	rejected       uint64
	discarded      uint64
}

// NewController creates a stopped controller feeding sink with frames from
// sources resolved by provider.
func NewController(provider Provider, sink Sink, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		provider: provider,
		sink:     sink,
		baseCtx:  ctx,
		closeFn:  cancel,
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = NewClock()
	}
	return c
}

// Reconfigure switches the active source to pos.
//
// Algorithm:
//  1. Resolve pos with the provider. ErrDeviceUnavailable returns here and
//     leaves the running source (if any) untouched.
//  2. Close the current source's gate, then stop it (Running → Configuring).
//  3. Start the new source behind a fresh gate (Configuring → Running).
//     If Start fails the new source is stopped and the state is Stopped.
//
// ctx is checked before the current source is torn down; the new source
// runs until the next Reconfigure, Stop or Close.
func (c *Controller) Reconfigure(ctx context.Context, pos Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}

	next, err := c.provider.Open(pos)
	if err != nil {
		atomic.AddUint64(&c.failedSwitches, 1)
		state, current := c.status()
		slog.Warn("capture: device lookup failed, keeping current source",
			"requested", pos,
			"current", current,
			"state", state.String(),
			"error", err,
		)
		c.notify(state, current, err)
		return fmt.Errorf("capture: reconfigure to %s: %w", pos, err)
	}

	if err := ctx.Err(); err != nil {
		atomic.AddUint64(&c.failedSwitches, 1)
		return fmt.Errorf("capture: reconfigure to %s: %w", pos, err)
	}

	_, previous := c.status()
	slog.Info("capture: switching source",
		"from", previous,
		"to", pos,
	)

	c.setStatus(StateConfiguring, pos, nil)

	if err := c.detachLocked(); err != nil {
		// The old source is gated off already; a failed Stop cannot feed the sink.
		slog.Warn("capture: previous source did not stop cleanly", "position", previous, "error", err)
	}

	g := newGate(func(f framebuffer.Frame) { c.deliver(pos, f) }, &c.discarded)
	srcCtx, cancel := context.WithCancel(c.baseCtx)

	started := time.Now()
	if err := next.Start(srcCtx, g.emit); err != nil {
		g.close()
		cancel()
		if stopErr := next.Stop(); stopErr != nil {
			slog.Debug("capture: stop after failed start", "position", pos, "error", stopErr)
		}
		atomic.AddUint64(&c.failedSwitches, 1)
		c.setStatus(StateStopped, pos, err)

		slog.Error("capture: failed to start source",
			"position", pos,
			"error", err,
		)
		return fmt.Errorf("capture: start %s: %w", pos, err)
	}

	c.current = next
	c.gate = g
	c.cancel = cancel
	atomic.AddUint64(&c.switches, 1)

	c.statusMu.Lock()
	c.runningSince = started
	c.statusMu.Unlock()
	c.setStatus(StateRunning, pos, nil)

	slog.Info("capture: source running",
		"position", pos,
		"startup", time.Since(started),
	)
	return nil
}

// Stop detaches and stops the current source. Safe to call when stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil
	}

	_, pos := c.status()
	err := c.detachLocked()
	c.setStatus(StateStopped, pos, nil)
	if err != nil {
		return fmt.Errorf("capture: stop %s: %w", pos, err)
	}
	return nil
}

// Close stops the current source and rejects further Reconfigure calls.
func (c *Controller) Close() error {
	err := c.Stop()

	c.mu.Lock()
	c.closed = true
	c.closeFn()
	c.mu.Unlock()

	return err
}

// State returns the current switching state.
func (c *Controller) State() State {
	state, _ := c.status()
	return state
}

// Position returns the position of the running (or last requested) source.
func (c *Controller) Position() Position {
	_, pos := c.status()
	return pos
}

// Stats returns switching and delivery counters.
func (c *Controller) Stats() ControllerStats {
	c.statusMu.RLock()
	stats := ControllerStats{
		State:    c.state,
		Position: c.position,
	}
	if c.state == StateRunning {
		stats.RunningSince = c.runningSince
	}
	c.statusMu.RUnlock()

	stats.Switches = atomic.LoadUint64(&c.switches)
	stats.FailedSwitches = atomic.LoadUint64(&c.failedSwitches)
	stats.FramesDelivered = atomic.LoadUint64(&c.delivered)
	stats.FramesRejected = atomic.LoadUint64(&c.rejected)
	stats.FramesDiscarded = atomic.LoadUint64(&c.discarded)
	return stats
}

// Available lists positions the provider can currently open.
func (c *Controller) Available() []Position {
	return c.provider.Available()
}

// Clock returns the clock used to stamp frames.
func (c *Controller) Clock() *Clock {
	return c.clock
}

// detachLocked closes the gate, then stops the source. Caller holds mu.
func (c *Controller) detachLocked() error {
	if c.current == nil {
		return nil
	}

	c.gate.close()
	c.cancel()
	err := c.current.Stop()

	c.current = nil
	c.gate = nil
	c.cancel = nil
	return err
}

// deliver stamps and forwards one frame. Runs on the source's goroutine
// under the gate's read lock.
func (c *Controller) deliver(pos Position, frame framebuffer.Frame) {
	frame.Timestamp = c.clock.Stamp()
	if frame.Source == "" {
		frame.Source = pos.String()
	}

	if err := c.sink.Append(frame); err != nil {
		atomic.AddUint64(&c.rejected, 1)
		if errors.Is(err, framebuffer.ErrOutOfOrderFrame) {
			slog.Warn("capture: frame rejected by buffer",
				"position", pos,
				"seq", frame.Seq,
				"error", err,
			)
			return
		}
		slog.Error("capture: sink append failed", "position", pos, "error", err)
		return
	}
	atomic.AddUint64(&c.delivered, 1)
}

func (c *Controller) status() (State, Position) {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.state, c.position
}

func (c *Controller) setStatus(state State, pos Position, err error) {
	c.statusMu.Lock()
	c.state = state
	c.position = pos
	if state != StateRunning {
		c.runningSince = time.Time{}
	}
	c.statusMu.Unlock()

	c.notify(state, pos, err)
}

func (c *Controller) notify(state State, pos Position, err error) {
	for _, fn := range c.observers {
		fn(state, pos, err)
	}
}
