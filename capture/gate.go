package capture

import (
	"sync"
	"sync/atomic"

	"github.com/e7canasta/delaycam/framebuffer"
)

// gate sits between one source and the controller's delivery path.
//
// close waits for an in-flight emit to finish; once it returns, nothing the
// source emits reaches the sink.
type gate struct {
	mu      sync.RWMutex
	closed  bool
	deliver func(framebuffer.Frame)
	dropped *uint64
}

func newGate(deliver func(framebuffer.Frame), dropped *uint64) *gate {
	return &gate{deliver: deliver, dropped: dropped}
}

func (g *gate) emit(frame framebuffer.Frame) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		atomic.AddUint64(g.dropped, 1)
		return
	}
	g.deliver(frame)
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
