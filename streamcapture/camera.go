package streamcapture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/framebuffer"
	"github.com/e7canasta/delaycam/streamcapture/internal/gstpipe"
)

const (
	// MinFPS and MaxFPS bound CameraConfig.TargetFPS.
	MinFPS = 0.1
	MaxFPS = 60.0

	handoffBuffer = 8
	stopTimeout   = 3 * time.Second
)

// CameraSource implements capture.Source over a GStreamer pipeline.
type CameraSource struct {
	// Configuration
	device    string
	spec      gstpipe.SourceSpec
	position  capture.Position
	width     int
	height    int
	format    string
	targetFPS float64

	elements *gstpipe.PipelineElements
	mu       sync.RWMutex

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics (atomic)
	frameCount    uint64
	framesDropped uint64
	bytesRead     uint64
	started       time.Time
	lastFrameAt   atomic.Int64

	errors         gstpipe.ErrorCounters
	reconnectState *gstpipe.ReconnectState
	reconnectCfg   gstpipe.ReconnectConfig
	failed         atomic.Bool
}

// NewCameraSource validates cfg and returns a stopped source.
//
// Validation (fail-fast):
//   - Device must parse
//   - TargetFPS within [MinFPS, MaxFPS]
//   - Resolution positive and even
//   - Format a packed raw format
//   - GStreamer and the source element available
func NewCameraSource(cfg CameraConfig) (*CameraSource, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("streamcapture: device is required")
	}
	spec, err := gstpipe.ParseDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("streamcapture: %w", err)
	}

	if cfg.TargetFPS < MinFPS || cfg.TargetFPS > MaxFPS {
		return nil, fmt.Errorf("streamcapture: invalid FPS %.2f (must be %.1f-%.0f)", cfg.TargetFPS, MinFPS, MaxFPS)
	}

	if !cfg.Resolution.Valid() {
		return nil, fmt.Errorf("streamcapture: invalid resolution %v", cfg.Resolution)
	}

	format := cfg.Format
	if format == "" {
		format = "RGB"
	}
	if gstpipe.BytesPerPixel(format) == 0 {
		return nil, fmt.Errorf("streamcapture: unsupported format %q", format)
	}

	if err := checkGStreamerAvailable(spec.Kind.String()); err != nil {
		return nil, fmt.Errorf("streamcapture: GStreamer not available: %w", err)
	}

	reconnectCfg := gstpipe.DefaultReconnectConfig()
	if cfg.MaxReconnectAttempts > 0 {
		reconnectCfg.MaxRetries = cfg.MaxReconnectAttempts
	}
	if cfg.ReconnectInitialDelay > 0 {
		reconnectCfg.RetryDelay = cfg.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay > 0 {
		reconnectCfg.MaxRetryDelay = cfg.ReconnectMaxDelay
	}

	position := cfg.Position
	if position == "" {
		position = capture.PositionBack
	}

	s := &CameraSource{
		device:         cfg.Device,
		spec:           spec,
		position:       position,
		width:          cfg.Resolution.Width,
		height:         cfg.Resolution.Height,
		format:         format,
		targetFPS:      cfg.TargetFPS,
		reconnectCfg:   reconnectCfg,
		reconnectState: gstpipe.NewReconnectState(),
	}

	slog.Info("streamcapture: camera source created",
		"device", cfg.Device,
		"element", spec.Kind.String(),
		"position", position,
		"resolution", cfg.Resolution.String(),
		"target_fps", cfg.TargetFPS,
		"format", format,
	)

	return s, nil
}

// Position implements capture.Source.
func (s *CameraSource) Position() capture.Position {
	return s.position
}

// Start builds the pipeline, sets it PLAYING and forwards frames to emit until
// ctx is cancelled or Stop is called. Frames arrive asynchronously.
func (s *CameraSource) Start(ctx context.Context, emit capture.EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("streamcapture: camera %s already started", s.position)
	}

	elements, err := gstpipe.CreatePipeline(gstpipe.PipelineConfig{
		Source:    s.spec,
		Width:     s.width,
		Height:    s.height,
		TargetFPS: s.targetFPS,
		Format:    s.format,
	})
	if err != nil {
		return fmt.Errorf("streamcapture: failed to create pipeline: %w", err)
	}

	frames := make(chan framebuffer.Frame, handoffBuffer)
	callbackCtx := &gstpipe.CallbackContext{
		FrameChan:     frames,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		Width:         s.width,
		Height:        s.height,
		Format:        s.format,
		Source:        s.position.String(),
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstpipe.OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		if destroyErr := gstpipe.DestroyPipeline(elements); destroyErr != nil {
			slog.Debug("streamcapture: destroy after failed start", "error", destroyErr)
		}
		return fmt.Errorf("streamcapture: failed to start pipeline on %s: %w", s.device, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.elements = elements
	s.started = time.Now()
	s.failed.Store(false)

	s.wg.Add(2)
	go s.forward(runCtx, frames, emit)
	go s.runPipeline(runCtx, elements)

	slog.Info("streamcapture: camera started",
		"device", s.device,
		"position", s.position,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"target_fps", s.targetFPS,
	)
	return nil
}

// forward moves frames from the appsink hand-off channel to emit. It is the
// only goroutine that calls emit.
func (s *CameraSource) forward(ctx context.Context, frames <-chan framebuffer.Frame, emit capture.EmitFunc) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			s.lastFrameAt.Store(time.Now().UnixNano())
			emit(frame)
		}
	}
}

// runPipeline watches the bus and restarts the pipeline with exponential
// backoff after recoverable errors.
func (s *CameraSource) runPipeline(ctx context.Context, elements *gstpipe.PipelineElements) {
	defer s.wg.Done()

	metrics := &gstpipe.MonitorMetrics{
		Device:     s.device,
		Resolution: fmt.Sprintf("%dx%d", s.width, s.height),
		FrameCount: &s.frameCount,
		StartedAt:  s.started,
	}

	first := true
	connectFn := func(ctx context.Context) error {
		if !first {
			if err := restartPipeline(elements); err != nil {
				return err
			}
		}
		first = false
		return gstpipe.MonitorPipelineBus(ctx, elements.Pipeline, &s.errors, s.reconnectState, metrics)
	}

	err := gstpipe.RunWithReconnect(ctx, connectFn, s.reconnectCfg, s.reconnectState)
	if err != nil && ctx.Err() == nil {
		s.failed.Store(true)
		slog.Error("streamcapture: camera stopped after pipeline failure",
			"error", err,
			"device", s.device,
			"position", s.position,
			"uptime", time.Since(s.started),
			"frames_processed", atomic.LoadUint64(&s.frameCount),
			"reconnects", atomic.LoadUint32(s.reconnectState.Reconnects),
		)
	}
}

func restartPipeline(elements *gstpipe.PipelineElements) error {
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("reset pipeline: %w", err)
	}
	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("restart pipeline: %w", err)
	}
	return nil
}

// Stop cancels the goroutines, waits for them, and releases the device.
// No frame is emitted after Stop returns. Idempotent.
func (s *CameraSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-time.After(stopTimeout):
		stopErr = fmt.Errorf("streamcapture: stop timeout on %s", s.device)
		slog.Warn("streamcapture: stop timeout exceeded, some goroutines may still be running",
			"device", s.device,
		)
	}

	if err := gstpipe.DestroyPipeline(s.elements); err != nil {
		slog.Error("streamcapture: failed to destroy pipeline", "error", err)
		if stopErr == nil {
			stopErr = err
		}
	}
	s.elements = nil
	s.cancel = nil

	slog.Info("streamcapture: camera stopped",
		"device", s.device,
		"position", s.position,
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"reconnects", atomic.LoadUint32(s.reconnectState.Reconnects),
		"uptime", time.Since(s.started),
	)
	return stopErr
}

// SetTargetFPS updates the capsfilter framerate without restarting the
// pipeline. The previous caps are restored if the update fails.
func (s *CameraSource) SetTargetFPS(fps float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fps < MinFPS || fps > MaxFPS {
		return fmt.Errorf("streamcapture: invalid FPS %.2f (must be %.1f-%.0f)", fps, MinFPS, MaxFPS)
	}
	if s.elements == nil {
		s.targetFPS = fps
		return nil
	}

	old := s.targetFPS
	if err := gstpipe.UpdateCaps(s.elements.CapsFilter, s.format, s.width, s.height, fps); err != nil {
		if rollbackErr := gstpipe.UpdateCaps(s.elements.CapsFilter, s.format, s.width, s.height, old); rollbackErr != nil {
			slog.Error("streamcapture: rollback failed, pipeline may be in inconsistent state",
				"rollback_error", rollbackErr,
				"original_error", err,
			)
		}
		return fmt.Errorf("streamcapture: failed to update FPS: %w", err)
	}
	s.targetFPS = fps

	slog.Info("streamcapture: target FPS updated", "old_fps", old, "new_fps", fps)
	return nil
}

// Stats returns current camera statistics.
func (s *CameraSource) Stats() CameraStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	dropped := atomic.LoadUint64(&s.framesDropped)

	var fpsReal float64
	if !s.started.IsZero() {
		if uptime := time.Since(s.started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount) / uptime
		}
	}

	var dropRate float64
	if total := frameCount + dropped; total > 0 {
		dropRate = float64(dropped) / float64(total) * 100.0
	}

	var latencyMS int64
	if last := s.lastFrameAt.Load(); last != 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	return CameraStats{
		FrameCount:       frameCount,
		FramesDropped:    dropped,
		DropRate:         dropRate,
		FPSTarget:        s.targetFPS,
		FPSReal:          fpsReal,
		LatencyMS:        latencyMS,
		Device:           s.device,
		Position:         s.position,
		Resolution:       fmt.Sprintf("%dx%d", s.width, s.height),
		Reconnects:       atomic.LoadUint32(s.reconnectState.Reconnects),
		BytesRead:        atomic.LoadUint64(&s.bytesRead),
		IsConnected:      s.elements != nil && s.cancel != nil && !s.failed.Load(),
		ErrorsDevice:     atomic.LoadUint64(&s.errors.Device),
		ErrorsPermission: atomic.LoadUint64(&s.errors.Permission),
		ErrorsCodec:      atomic.LoadUint64(&s.errors.Codec),
		ErrorsUnknown:    atomic.LoadUint64(&s.errors.Unknown),
	}
}

// checkGStreamerAvailable verifies GStreamer initializes and the source
// element factory is installed.
func checkGStreamerAvailable(factory string) error {
	gst.Init(nil)

	for _, name := range []string{"fakesrc", factory} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return fmt.Errorf("element %s not available: %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return nil
}
