// Package core wires the frame buffer, the capture controller and the
// control surfaces into one service.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/framebuffer"
	"github.com/e7canasta/delaycam/internal/config"
	"github.com/e7canasta/delaycam/internal/control"
	"github.com/e7canasta/delaycam/internal/server"
	"github.com/e7canasta/delaycam/internal/warmup"
	"github.com/e7canasta/delaycam/streamcapture"
)

const statsLogInterval = 30 * time.Second

// Option configures a Delaycam.
type Option func(*Delaycam)

// WithProvider replaces the provider derived from the capture config.
func WithProvider(p capture.Provider) Option {
	return func(d *Delaycam) {
		d.provider = p
	}
}

// WithLoader enables config hot reload from l.
func WithLoader(l *config.Loader) Option {
	return func(d *Delaycam) {
		d.loader = l
	}
}

// WithLevelVar lets hot reload change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(d *Delaycam) {
		d.levelVar = v
	}
}

// Delaycam is the service orchestrator.
type Delaycam struct {
	buffer   *framebuffer.Buffer
	provider capture.Provider
	ctrl     *capture.Controller
	loader   *config.Loader
	levelVar *slog.LevelVar

	mqtt    *control.Client
	handler *control.Handler
	server  *server.Server

	// Background measurements, waited for in Shutdown
	background   conc.WaitGroup
	baseCtx      context.Context
	baseCancel   context.CancelFunc
	warmupMu     sync.Mutex
	warmupCancel context.CancelFunc

	// switchMu serializes SwitchCamera so a failed switch can restore the
	// previous camera without interleaving with another request.
	switchMu sync.Mutex

	mu         sync.RWMutex
	cfg        *config.Config
	loaded     config.Config
	started    time.Time
	running    bool
	lastWarmup *warmup.Stats
}

// New creates a stopped Delaycam from a validated config.
func New(cfg *config.Config, opts ...Option) (*Delaycam, error) {
	buffer, err := framebuffer.New(cfg.Buffer.Window, cfg.Buffer.AssumedFPS)
	if err != nil {
		return nil, fmt.Errorf("core: create buffer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Delaycam{
		cfg:        cfg,
		loaded:     snapshotConfig(cfg),
		buffer:     buffer,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.provider == nil {
		provider, err := NewProvider(cfg)
		if err != nil {
			cancel()
			return nil, err
		}
		d.provider = provider
	}

	d.ctrl = capture.NewController(d.provider, buffer, capture.WithStateObserver(d.onStateChange))

	slog.Info("core: delaycam created",
		"instance_id", cfg.InstanceID,
		"window", cfg.Buffer.Window,
		"assumed_fps", cfg.Buffer.AssumedFPS,
		"capacity", buffer.Capacity(),
		"source", cfg.Capture.Source,
	)
	return d, nil
}

// NewProvider builds the capture provider named by cfg.Capture.Source.
func NewProvider(cfg *config.Config) (capture.Provider, error) {
	devices := make(map[capture.Position]string, len(cfg.Capture.Devices))
	for name, dev := range cfg.Capture.Devices {
		pos, err := capture.ParsePosition(name)
		if err != nil {
			return nil, fmt.Errorf("core: capture.devices: %w", err)
		}
		devices[pos] = dev
	}

	switch cfg.Capture.Source {
	case "mock":
		positions := make([]capture.Position, 0, len(devices)+1)
		for pos := range devices {
			positions = append(positions, pos)
		}
		if len(positions) == 0 {
			positions = append(positions, capture.PositionBack, capture.PositionFront)
		}
		return capture.NewMockProvider(cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.FPS, positions...), nil

	case "gstreamer":
		base := streamcapture.CameraConfig{
			Resolution: streamcapture.Resolution{Width: cfg.Capture.Width, Height: cfg.Capture.Height},
			TargetFPS:  cfg.Capture.FPS,
			Format:     cfg.Capture.Format,
		}
		return streamcapture.NewDeviceProvider(base, devices), nil

	default:
		return nil, fmt.Errorf("core: unknown capture source %q", cfg.Capture.Source)
	}
}

// Buffer returns the frame buffer.
func (d *Delaycam) Buffer() *framebuffer.Buffer {
	return d.buffer
}

// Controller returns the capture controller.
func (d *Delaycam) Controller() *capture.Controller {
	return d.ctrl
}

// Config returns a copy of the active configuration.
func (d *Delaycam) Config() config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.cfg
}

// ShutdownTimeout returns the configured graceful shutdown bound.
func (d *Delaycam) ShutdownTimeout() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.ShutdownTimeout
}

// Run starts the configured camera and the control surfaces, then blocks
// until ctx is cancelled or a surface fails.
func (d *Delaycam) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("core: already running")
	}
	d.running = true
	d.started = time.Now()
	cfg := *d.cfg
	d.mu.Unlock()

	slog.Info("core: delaycam starting", "instance_id", cfg.InstanceID, "position", cfg.Capture.Position)

	if err := d.SwitchCamera(ctx, cfg.Capture.Position); err != nil {
		return fmt.Errorf("core: start camera: %w", err)
	}

	p := pool.New().WithContext(ctx).WithCancelOnError()

	if cfg.MQTT.Enabled {
		if err := d.startControlPlane(ctx, cfg); err != nil {
			return err
		}
		emitter := control.NewStatusEmitter(d.mqtt, cfg.MQTT.Topics.Status, byte(cfg.MQTT.QoS), cfg.MQTT.StatusInterval, d.Status)
		p.Go(func(ctx context.Context) error {
			emitter.Run(ctx)
			return nil
		})
	}

	if cfg.Server.Enabled {
		d.server = server.New(cfg.Server.Addr, d)
		p.Go(d.server.Run)
	}

	if d.loader != nil {
		d.loader.Watch(d.applyConfig)
	}

	p.Go(func(ctx context.Context) error {
		d.logStats(ctx)
		return nil
	})

	slog.Info("core: delaycam running",
		"mqtt", cfg.MQTT.Enabled,
		"server", cfg.Server.Enabled,
		"hot_reload", d.loader != nil,
	)

	err := p.Wait()
	slog.Info("core: run loop exiting", "error", err)
	return err
}

func (d *Delaycam) startControlPlane(ctx context.Context, cfg config.Config) error {
	d.mqtt = control.NewClient(cfg.MQTT)
	if err := d.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("core: %w", err)
	}

	d.handler = control.NewHandler(cfg.MQTT, d.mqtt, control.Callbacks{
		OnGetStatus:    d.Status,
		OnSetWindow:    d.SetWindow,
		OnSetFrameRate: d.SetFrameRate,
		OnSwitchCamera: d.SwitchCamera,
		OnSnapshot:     d.Snapshot,
	})
	if err := d.handler.Start(ctx); err != nil {
		return fmt.Errorf("core: %w", err)
	}
	return nil
}

// Shutdown stops the camera and the control plane. Safe to call when Run
// never started.
func (d *Delaycam) Shutdown(ctx context.Context) error {
	slog.Info("core: shutting down delaycam")

	done := make(chan error, 1)
	go func() {
		var errs []error

		if d.handler != nil {
			d.handler.Stop()
		}

		if err := d.ctrl.Close(); err != nil {
			errs = append(errs, err)
		}

		d.baseCancel()
		if r := d.background.WaitAndRecover(); r != nil {
			errs = append(errs, fmt.Errorf("core: background task panicked: %w", r.AsError()))
		}

		if d.mqtt != nil {
			d.mqtt.Disconnect()
		}
		done <- errors.Join(errs...)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("core: shutdown: %w", ctx.Err())
	}

	d.mu.Lock()
	uptime := time.Since(d.started)
	d.running = false
	d.mu.Unlock()

	if err != nil {
		slog.Error("core: shutdown incomplete", "error", err)
		return err
	}
	slog.Info("core: delaycam stopped", "uptime", uptime.Round(time.Second))
	return nil
}

func (d *Delaycam) onStateChange(state capture.State, pos capture.Position, err error) {
	if err != nil {
		slog.Debug("core: capture state", "state", state.String(), "position", pos, "error", err)
		return
	}
	slog.Debug("core: capture state", "state", state.String(), "position", pos)
}

func (d *Delaycam) logStats(ctx context.Context) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b := d.buffer.Stats()
			c := d.ctrl.Stats()
			slog.Info("core: stats",
				"state", c.State.String(),
				"position", c.Position,
				"retained", b.Retained,
				"capacity", b.Capacity,
				"span", b.Span,
				"drift", b.Drift,
				"delivered", c.FramesDelivered,
				"rejected", c.FramesRejected,
				"discarded", c.FramesDiscarded,
			)
		}
	}
}
