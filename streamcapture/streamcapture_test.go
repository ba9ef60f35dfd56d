package streamcapture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/framebuffer"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		input   string
		want    Resolution
		wantErr bool
	}{
		{"720p", Res720p, false},
		{"1080P", Res1080p, false},
		{"640x480", Res480p, false},
		{"320 x 240", Resolution{320, 240}, false},
		{"641x480", Resolution{}, true},
		{"0x480", Resolution{}, true},
		{"big", Resolution{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseResolution(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResolution(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseResolution(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestNewCameraSource_Validation checks fail-fast validation. These cases fail
// before GStreamer is touched.
func TestNewCameraSource_Validation(t *testing.T) {
	valid := CameraConfig{Device: "test:smpte", Resolution: Res480p, TargetFPS: 30}

	tests := []struct {
		name   string
		mutate func(*CameraConfig)
	}{
		{"missing device", func(c *CameraConfig) { c.Device = "" }},
		{"bad avf index", func(c *CameraConfig) { c.Device = "avf:nope" }},
		{"fps too low", func(c *CameraConfig) { c.TargetFPS = 0.05 }},
		{"fps too high", func(c *CameraConfig) { c.TargetFPS = 120 }},
		{"zero resolution", func(c *CameraConfig) { c.Resolution = Resolution{} }},
		{"odd resolution", func(c *CameraConfig) { c.Resolution = Resolution{641, 480} }},
		{"unsupported format", func(c *CameraConfig) { c.Format = "NV12" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewCameraSource(cfg); err == nil {
				t.Errorf("NewCameraSource() should reject %s", tt.name)
			}
		})
	}
}

func TestCameraSource_Stop_Idempotent(t *testing.T) {
	src, err := NewCameraSource(CameraConfig{Device: "test:smpte", Resolution: Res480p, TargetFPS: 30})
	if err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := src.Stop(); err != nil {
			t.Errorf("Stop() #%d on non-started camera failed: %v", i, err)
		}
	}
	if src.Position() != capture.PositionBack {
		t.Errorf("Position() = %v, want default back", src.Position())
	}
	t.Log("✅ Repeated Stop() on non-started camera successful")
}

// TestCameraSource_TestPattern runs a videotestsrc pipeline behind a real
// controller and buffer.
func TestCameraSource_TestPattern(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping GStreamer pipeline test in short mode")
	}

	provider := NewDeviceProvider(
		CameraConfig{Resolution: Resolution{64, 48}, TargetFPS: 30},
		map[capture.Position]string{
			capture.PositionBack:  "test:smpte",
			capture.PositionFront: "test:ball",
		},
	)
	if _, err := provider.Open(capture.PositionBack); err != nil {
		t.Skipf("Skipping test: GStreamer not available: %v", err)
	}

	buf := framebuffer.Default()
	ctrl := capture.NewController(provider, buf)
	defer ctrl.Close()

	ctx := context.Background()
	for _, pos := range []capture.Position{capture.PositionBack, capture.PositionFront} {
		if err := ctrl.Reconfigure(ctx, pos); err != nil {
			t.Fatalf("Reconfigure(%s) failed: %v", pos, err)
		}
		before := buf.Stats().Appended

		deadline := time.Now().Add(5 * time.Second)
		for buf.Stats().Appended < before+5 {
			if time.Now().After(deadline) {
				t.Fatalf("no frames from %s within 5s", pos)
			}
			time.Sleep(20 * time.Millisecond)
		}

		latest, ok := buf.Latest()
		if !ok || latest.Source != pos.String() {
			t.Errorf("Latest() = %q, want frame from %s", latest.Source, pos)
		}
		if want := 64 * 48 * 3; len(latest.Data) != want {
			t.Errorf("frame size = %d, want %d", len(latest.Data), want)
		}
	}

	if rejected := ctrl.Stats().FramesRejected; rejected != 0 {
		t.Errorf("FramesRejected = %d, want 0", rejected)
	}
}

// fakeStat reports the listed paths as existing.
func fakeStat(existing ...string) func(string) (os.FileInfo, error) {
	var mu sync.Mutex
	set := make(map[string]bool)
	for _, p := range existing {
		set[p] = true
	}
	return func(path string) (os.FileInfo, error) {
		mu.Lock()
		defer mu.Unlock()
		if set[path] {
			return nil, nil
		}
		return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
}

func TestDeviceProvider_OpenUnavailable(t *testing.T) {
	p := NewDeviceProvider(
		CameraConfig{Resolution: Res720p, TargetFPS: 30},
		map[capture.Position]string{
			capture.PositionBack:  "/dev/video0",
			capture.PositionFront: "/dev/video1",
		},
	)
	p.stat = fakeStat("/dev/video0")

	if _, err := p.Open(capture.PositionFront); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("Open(front) error = %v, want ErrDeviceUnavailable", err)
	}
	if _, err := p.Open(capture.Position("usb")); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("Open(usb) error = %v, want ErrDeviceUnavailable", err)
	}

	got := p.Available()
	if !reflect.DeepEqual(got, []capture.Position{capture.PositionBack}) {
		t.Errorf("Available() = %v, want [back]", got)
	}
}

func TestDeviceProvider_RealStat(t *testing.T) {
	dir := t.TempDir()
	node := filepath.Join(dir, "video7")
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewDeviceProvider(CameraConfig{Resolution: Res720p, TargetFPS: 30}, map[capture.Position]string{
		capture.PositionBack:  node,
		capture.PositionFront: filepath.Join(dir, "missing"),
	})

	if got := p.Available(); !reflect.DeepEqual(got, []capture.Position{capture.PositionBack}) {
		t.Errorf("Available() = %v, want [back]", got)
	}

	p.SetDevices(map[capture.Position]string{capture.PositionFront: "test:snow"})
	if got := p.Available(); !reflect.DeepEqual(got, []capture.Position{capture.PositionFront}) {
		t.Errorf("Available() after SetDevices = %v, want [front]", got)
	}
	if dev, ok := p.Device(capture.PositionFront); !ok || dev != "test:snow" {
		t.Errorf("Device(front) = %q, %v", dev, ok)
	}
}
