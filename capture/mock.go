package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/delaycam/framebuffer"
)

// MockSource generates synthetic frames at a fixed rate.
type MockSource struct {
	position Position
	width    int
	height   int
	fps      float64
	startErr error

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu            sync.Mutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockSource creates a synthetic source. fps must be positive.
func NewMockSource(pos Position, width, height int, fps float64) *MockSource {
	return &MockSource{
		position: pos,
		width:    width,
		height:   height,
		fps:      fps,
	}
}

// Position implements Source.
func (m *MockSource) Position() Position {
	return m.position
}

// Start begins generating frames on a ticker until ctx is cancelled or Stop
// is called.
func (m *MockSource) Start(ctx context.Context, emit EmitFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	if m.isRunning {
		return fmt.Errorf("capture: mock source %s already running", m.position)
	}
	if m.fps <= 0 {
		return fmt.Errorf("capture: mock source %s: invalid fps %.2f", m.position, m.fps)
	}

	m.isRunning = true
	m.startTime = time.Now()
	m.stopCh = make(chan struct{})

	slog.Info("capture: mock source starting",
		"position", m.position,
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx, emit, m.stopCh)

	return nil
}

// Stop halts generation and waits for the generator goroutine. Idempotent.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	emitted := m.framesEmitted
	m.mu.Unlock()

	slog.Info("capture: mock source stopped",
		"position", m.position,
		"frames_emitted", emitted,
		"duration", time.Since(m.startTime),
	)
	return nil
}

// FramesEmitted returns how many frames were handed to emit.
func (m *MockSource) FramesEmitted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesEmitted
}

func (m *MockSource) generateFrames(ctx context.Context, emit EmitFunc, stopCh <-chan struct{}) {
	defer m.wg.Done()

	frameDuration := time.Duration(float64(time.Second) / m.fps)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			emit(m.createFrame())
			m.mu.Lock()
			m.framesEmitted++
			m.mu.Unlock()
		}
	}
}

// createFrame creates a gray RGB frame whose level follows the sequence
// number, so consecutive frames are distinguishable.
func (m *MockSource) createFrame() framebuffer.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	data := make([]byte, m.width*m.height*3)
	level := byte(seq)
	for i := range data {
		data[i] = level
	}

	return framebuffer.Frame{
		Seq:     seq,
		Width:   m.width,
		Height:  m.height,
		Format:  "RGB",
		Data:    data,
		Source:  m.position.String(),
		TraceID: uuid.New().String(),
	}
}

// MockProvider opens MockSources for a configurable set of positions.
type MockProvider struct {
	width  int
	height int
	fps    float64

	mu        sync.Mutex
	available map[Position]bool
	startErrs map[Position]error
	opened    []*MockSource
}

// NewMockProvider creates a provider where each of positions is available.
func NewMockProvider(width, height int, fps float64, positions ...Position) *MockProvider {
	p := &MockProvider{
		width:     width,
		height:    height,
		fps:       fps,
		available: make(map[Position]bool),
		startErrs: make(map[Position]error),
	}
	for _, pos := range positions {
		p.available[pos] = true
	}
	return p
}

// Open implements Provider.
func (p *MockProvider) Open(pos Position) (Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.available[pos] {
		return nil, fmt.Errorf("mock %s: %w", pos, ErrDeviceUnavailable)
	}

	src := NewMockSource(pos, p.width, p.height, p.fps)
	src.startErr = p.startErrs[pos]
	p.opened = append(p.opened, src)
	return src, nil
}

// Available implements Provider.
func (p *MockProvider) Available() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	positions := make([]Position, 0, len(p.available))
	for pos, ok := range p.available {
		if ok {
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return positions
}

// SetAvailable plugs or unplugs a simulated device.
func (p *MockProvider) SetAvailable(pos Position, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available[pos] = ok
}

// FailStart makes sources subsequently opened for pos fail to start with err.
// A nil err clears the failure.
func (p *MockProvider) FailStart(pos Position, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.startErrs, pos)
		return
	}
	p.startErrs[pos] = err
}

// Opened returns every source handed out so far, oldest first.
func (p *MockProvider) Opened() []*MockSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockSource(nil), p.opened...)
}
