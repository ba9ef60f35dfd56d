package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/framebuffer"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // Config key, e.g. "buffer.window"
	Value   any    // The invalid value
	Message string // Human-readable description
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted logging.format values.
func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// ValidSources returns the accepted capture.source values.
func ValidSources() []string {
	return []string{"gstreamer", "mock"}
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !instanceIDPattern.MatchString(c.InstanceID) {
		errs = append(errs, ValidationError{
			Field:   "instance_id",
			Value:   c.InstanceID,
			Message: "must match [a-z0-9][a-z0-9-]*",
		})
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "shutdown_timeout",
			Value:   c.ShutdownTimeout,
			Message: "must be positive",
		})
	}

	errs = append(errs, c.validateBuffer()...)
	errs = append(errs, c.validateCapture()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateBuffer() []ValidationError {
	var errs []ValidationError
	b := c.Buffer

	// framebuffer.New applies the same rules the running buffer will
	if _, err := framebuffer.New(b.Window, b.AssumedFPS); err != nil {
		field, value := "buffer.window", any(b.Window)
		if errors.Is(err, framebuffer.ErrInvalidFrameRate) {
			field, value = "buffer.assumed_fps", b.AssumedFPS
		}
		errs = append(errs, ValidationError{Field: field, Value: value, Message: err.Error()})
	}

	if b.Warmup < 0 {
		errs = append(errs, ValidationError{
			Field:   "buffer.warmup",
			Value:   b.Warmup,
			Message: "must be non-negative",
		})
	}
	if b.CalibrateTolerance < 0 || b.CalibrateTolerance >= 1 {
		errs = append(errs, ValidationError{
			Field:   "buffer.calibrate_tolerance",
			Value:   b.CalibrateTolerance,
			Message: "must be in [0, 1)",
		})
	}
	if b.CalibrateRate && b.Warmup == 0 {
		errs = append(errs, ValidationError{
			Field:   "buffer.warmup",
			Value:   b.Warmup,
			Message: "must be positive when calibrate_rate is enabled",
		})
	}
	return errs
}

func (c *Config) validateCapture() []ValidationError {
	var errs []ValidationError
	cp := c.Capture

	if !slices.Contains(ValidSources(), cp.Source) {
		errs = append(errs, ValidationError{
			Field:   "capture.source",
			Value:   cp.Source,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSources(), ", ")),
		})
	}

	pos, err := capture.ParsePosition(cp.Position)
	if err != nil {
		errs = append(errs, ValidationError{Field: "capture.position", Value: cp.Position, Message: err.Error()})
	} else if cp.Source == "gstreamer" {
		if _, ok := cp.Devices[pos.String()]; !ok {
			errs = append(errs, ValidationError{
				Field:   "capture.devices",
				Value:   cp.Devices,
				Message: fmt.Sprintf("no device for position %q", pos),
			})
		}
	}

	for name, dev := range cp.Devices {
		if _, err := capture.ParsePosition(name); err != nil {
			errs = append(errs, ValidationError{Field: "capture.devices", Value: name, Message: err.Error()})
		}
		if strings.TrimSpace(dev) == "" {
			errs = append(errs, ValidationError{
				Field:   "capture.devices." + name,
				Value:   dev,
				Message: "must not be empty",
			})
		}
	}

	if cp.Width <= 0 || cp.Height <= 0 || cp.Width%2 != 0 || cp.Height%2 != 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.width/height",
			Value:   fmt.Sprintf("%dx%d", cp.Width, cp.Height),
			Message: "must be positive and even",
		})
	}
	if cp.FPS < 0.1 || cp.FPS > 60 {
		errs = append(errs, ValidationError{
			Field:   "capture.fps",
			Value:   cp.FPS,
			Message: "must be between 0.1 and 60",
		})
	}
	switch strings.ToUpper(cp.Format) {
	case "RGB", "BGR", "RGBA", "BGRA", "RGBX", "BGRX", "GRAY8":
	default:
		errs = append(errs, ValidationError{
			Field:   "capture.format",
			Value:   cp.Format,
			Message: "must be a packed raw format (RGB, BGR, RGBA, BGRA, RGBX, BGRX, GRAY8)",
		})
	}
	return errs
}

func (c *Config) validateMQTT() []ValidationError {
	var errs []ValidationError
	m := c.MQTT

	if m.QoS < 0 || m.QoS > 2 {
		errs = append(errs, ValidationError{Field: "mqtt.qos", Value: m.QoS, Message: "must be 0, 1 or 2"})
	}
	if m.StatusInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "mqtt.status_interval",
			Value:   m.StatusInterval,
			Message: "must be non-negative",
		})
	}
	if !m.Enabled {
		return errs
	}

	if m.Broker == "" {
		errs = append(errs, ValidationError{Field: "mqtt.broker", Value: m.Broker, Message: "is required when mqtt is enabled"})
	}
	topics := map[string]string{
		"mqtt.topics.control":  m.Topics.Control,
		"mqtt.topics.status":   m.Topics.Status,
		"mqtt.topics.snapshot": m.Topics.Snapshot,
	}
	for field, topic := range topics {
		if strings.ContainsAny(topic, "+#") {
			errs = append(errs, ValidationError{Field: field, Value: topic, Message: "must not contain wildcards"})
		}
	}
	return errs
}

func (c *Config) validateServer() []ValidationError {
	if c.Server.Enabled && c.Server.Addr == "" {
		return []ValidationError{{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "is required when server is enabled",
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	return errs
}
