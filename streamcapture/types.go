package streamcapture

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/e7canasta/delaycam/capture"
)

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int
	Height int
}

// Common camera resolutions.
var (
	Res480p  = Resolution{Width: 640, Height: 480}
	Res720p  = Resolution{Width: 1280, Height: 720}
	Res1080p = Resolution{Width: 1920, Height: 1080}
)

// Valid reports whether both dimensions are positive and even.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0 && r.Width%2 == 0 && r.Height%2 == 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WIDTHxHEIGHT" or one of 480p, 720p, 1080p.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "480p":
		return Res480p, nil
	case "720p":
		return Res720p, nil
	case "1080p":
		return Res1080p, nil
	}

	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("streamcapture: invalid resolution %q", s)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	r := Resolution{Width: width, Height: height}
	if err1 != nil || err2 != nil || !r.Valid() {
		return Resolution{}, fmt.Errorf("streamcapture: invalid resolution %q", s)
	}
	return r, nil
}

// CameraConfig contains configuration for a GStreamer camera source.
type CameraConfig struct {
	// Device is a node path (/dev/video0), avf:<index>, or test:<pattern>
	Device string
	// Position tags frames and identifies the camera to the controller
	Position capture.Position
	// Resolution is the output size after videoscale
	Resolution Resolution
	// TargetFPS is enforced by videorate (0.1 - 60)
	TargetFPS float64
	// Format is the raw pixel format (default RGB)
	Format string

	// Reconnect overrides; zero keeps the defaults (5 retries, 1s, 30s)
	MaxReconnectAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// CameraStats contains current camera statistics.
type CameraStats struct {
	// FrameCount is the total number of frames pulled from the appsink
	FrameCount uint64
	// FramesDropped counts frames dropped at the hand-off channel
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// FPSTarget is the configured rate
	FPSTarget float64
	// FPSReal is frames over uptime
	FPSReal float64
	// LatencyMS is the time since the last frame
	LatencyMS int64
	Device    string
	Position  capture.Position
	// Resolution is e.g. "1280x720"
	Resolution  string
	Reconnects  uint32
	BytesRead   uint64
	IsConnected bool

	// Error telemetry by category
	ErrorsDevice     uint64
	ErrorsPermission uint64
	ErrorsCodec      uint64
	ErrorsUnknown    uint64
}
