package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/e7canasta/delaycam/framebuffer"
	"github.com/e7canasta/delaycam/internal/config"
	"github.com/e7canasta/delaycam/internal/export"
)

// Command names accepted on the control topic.
const (
	CmdGetStatus    = "get_status"
	CmdSetWindow    = "set_window"
	CmdSetFrameRate = "set_frame_rate"
	CmdSwitchCamera = "switch_camera"
	CmdSnapshot     = "snapshot"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	commandQueueSize = 10
	switchTimeout    = 10 * time.Second

	// maxSeconds keeps seconds*time.Second inside time.Duration.
	maxSeconds = float64(math.MaxInt64 / int64(time.Second))
)

// Command is a control plane request.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response acknowledges a command on the status topic.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Broker is the subset of mqtt.Client the handler uses.
type Broker interface {
	Publisher
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Callbacks connect commands to the running delaycam. A nil callback makes
// its command answer "not implemented".
type Callbacks struct {
	OnGetStatus    func() map[string]any
	OnSetWindow    func(window time.Duration) error
	OnSetFrameRate func(fps float64) error
	OnSwitchCamera func(ctx context.Context, position string) error
	// OnSnapshot returns the frames of the last since (everything when since
	// is zero) and the configured window.
	OnSnapshot func(since time.Duration) ([]framebuffer.Frame, time.Duration)
}

// Handler handles control plane commands.
type Handler struct {
	cfg       config.MQTTConfig
	broker    Broker
	callbacks Callbacks
	commands  chan Command
	done      chan struct{}
	stopped   atomic.Bool

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHandler creates a new control plane handler.
func NewHandler(cfg config.MQTTConfig, broker Broker, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		broker:    broker,
		callbacks: callbacks,
		commands:  make(chan Command, commandQueueSize),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the control topic and processes commands until ctx is
// cancelled or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := byte(h.cfg.QoS)

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.broker.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("control: subscription to %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription to %s failed: %w", topic, err)
	}

	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command loop to exit. Messages that
// still arrive afterwards are dropped.
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		token := h.broker.Unsubscribe(h.cfg.Topics.Control)
		if !token.WaitTimeout(publishTimeout) {
			slog.Warn("control: unsubscribe timeout", "topic", h.cfg.Topics.Control)
		}
		close(h.done)
		h.wg.Wait()
		slog.Info("control: handler stopped")
	})
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.enqueue(msg.Payload())
}

func (h *Handler) enqueue(payload []byte) {
	if h.stopped.Load() {
		slog.Debug("control: handler stopped, dropping message")
		return
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     StatusError,
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(ctx, cmd))
		}
	}
}

// handleCommand executes cmd and returns its acknowledgement.
func (h *Handler) handleCommand(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	fail := func(format string, args ...any) Response {
		resp.Status = StatusError
		resp.Error = fmt.Sprintf(format, args...)
		return resp
	}

	switch cmd.Command {
	case CmdGetStatus:
		if h.callbacks.OnGetStatus == nil {
			return fail("get_status not implemented")
		}
		resp.Status = StatusSuccess
		resp.Data = h.callbacks.OnGetStatus()

	case CmdSetWindow:
		if h.callbacks.OnSetWindow == nil {
			return fail("set_window not implemented")
		}
		window, ok := durationParam(cmd.Params, "seconds")
		if !ok {
			return fail("missing or invalid 'seconds' parameter (expected positive number)")
		}
		if err := h.callbacks.OnSetWindow(window); err != nil {
			return fail("%v", err)
		}
		resp.Status = StatusSuccess
		resp.Data = map[string]any{
			"window":  window.String(),
			"message": "buffer window updated",
		}

	case CmdSetFrameRate:
		if h.callbacks.OnSetFrameRate == nil {
			return fail("set_frame_rate not implemented")
		}
		fps, ok := positiveNumber(cmd.Params, "fps")
		if !ok {
			return fail("missing or invalid 'fps' parameter (expected positive number)")
		}
		if err := h.callbacks.OnSetFrameRate(fps); err != nil {
			return fail("%v", err)
		}
		resp.Status = StatusSuccess
		resp.Data = map[string]any{
			"assumed_fps": fps,
			"message":     "assumed frame rate updated",
		}

	case CmdSwitchCamera:
		if h.callbacks.OnSwitchCamera == nil {
			return fail("switch_camera not implemented")
		}
		position, ok := cmd.Params["position"].(string)
		if !ok || position == "" {
			return fail("missing or invalid 'position' parameter (expected string)")
		}
		switchCtx, cancel := context.WithTimeout(ctx, switchTimeout)
		defer cancel()
		if err := h.callbacks.OnSwitchCamera(switchCtx, position); err != nil {
			return fail("%v", err)
		}
		resp.Status = StatusSuccess
		resp.Data = map[string]any{
			"position": position,
			"message":  "camera switched",
		}

	case CmdSnapshot:
		if h.callbacks.OnSnapshot == nil {
			return fail("snapshot not implemented")
		}
		var since time.Duration
		if _, present := cmd.Params["seconds"]; present {
			d, ok := durationParam(cmd.Params, "seconds")
			if !ok {
				return fail("invalid 'seconds' parameter (expected positive number)")
			}
			since = d
		}
		frames, window := h.callbacks.OnSnapshot(since)
		id := uuid.NewString()
		topic, err := h.publishSnapshot(id, frames, window)
		if err != nil {
			return fail("%v", err)
		}
		resp.Status = StatusSuccess
		resp.Data = map[string]any{
			"snapshot_id": id,
			"frames":      len(frames),
			"topic":       topic,
		}

	default:
		return fail("unknown command: %s", cmd.Command)
	}

	return resp
}

// publishSnapshot publishes a header record followed by one record per frame
// on <snapshot topic>/<id>.
func (h *Handler) publishSnapshot(id string, frames []framebuffer.Frame, window time.Duration) (string, error) {
	topic := h.cfg.Topics.Snapshot + "/" + id
	qos := byte(h.cfg.QoS)

	header, err := export.MarshalHeader(export.NewHeader(id, frames, window))
	if err != nil {
		return topic, err
	}
	if err := publishWait(h.broker, topic, qos, header); err != nil {
		return topic, err
	}

	for _, f := range frames {
		payload, err := export.MarshalFrame(f)
		if err != nil {
			return topic, err
		}
		if err := publishWait(h.broker, topic, qos, payload); err != nil {
			return topic, err
		}
	}

	slog.Info("control: snapshot published", "snapshot_id", id, "frames", len(frames), "topic", topic)
	return topic, nil
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	if err := publishWait(h.broker, h.cfg.Topics.Status, byte(h.cfg.QoS), payload); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func positiveNumber(params map[string]any, key string) (float64, bool) {
	v, ok := params[key].(float64)
	if !ok || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// durationParam reads a positive number of seconds that fits in a
// time.Duration.
func durationParam(params map[string]any, key string) (time.Duration, bool) {
	seconds, ok := positiveNumber(params, key)
	if !ok || seconds > maxSeconds {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
