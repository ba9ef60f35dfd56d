package streamcapture

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/streamcapture/internal/gstpipe"
)

// DeviceProvider resolves positions to GStreamer cameras using a
// position → device map.
//
// Open never touches the device beyond a stat of its node; the pipeline is
// only built by Start.
type DeviceProvider struct {
	base CameraConfig

	mu      sync.RWMutex
	devices map[capture.Position]string
	stat    func(string) (os.FileInfo, error)
}

// NewDeviceProvider creates a provider that opens cameras configured like
// base (resolution, rate, format), one per entry of devices.
func NewDeviceProvider(base CameraConfig, devices map[capture.Position]string) *DeviceProvider {
	p := &DeviceProvider{
		base:    base,
		devices: make(map[capture.Position]string, len(devices)),
		stat:    os.Stat,
	}
	for pos, dev := range devices {
		p.devices[pos] = dev
	}
	return p
}

// SetDevices replaces the position → device map.
func (p *DeviceProvider) SetDevices(devices map[capture.Position]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = make(map[capture.Position]string, len(devices))
	for pos, dev := range devices {
		p.devices[pos] = dev
	}
}

// Device returns the device string mapped to pos.
func (p *DeviceProvider) Device(pos capture.Position) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dev, ok := p.devices[pos]
	return dev, ok
}

// Open implements capture.Provider. It fails with capture.ErrDeviceUnavailable
// when pos has no mapping or its device node does not exist.
func (p *DeviceProvider) Open(pos capture.Position) (capture.Source, error) {
	dev, ok := p.Device(pos)
	if !ok || dev == "" {
		return nil, fmt.Errorf("streamcapture: no device mapped to %s: %w", pos, capture.ErrDeviceUnavailable)
	}
	if err := p.probe(dev); err != nil {
		return nil, fmt.Errorf("streamcapture: %s (%s): %v: %w", pos, dev, err, capture.ErrDeviceUnavailable)
	}

	cfg := p.base
	cfg.Device = dev
	cfg.Position = pos
	src, err := NewCameraSource(cfg)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Available implements capture.Provider.
func (p *DeviceProvider) Available() []capture.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]capture.Position, 0, len(p.devices))
	for pos, dev := range p.devices {
		if p.probe(dev) == nil {
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	return positions
}

// probe checks a v4l2 node exists. Test patterns and AVFoundation indices
// cannot be probed without opening the device and are assumed present.
func (p *DeviceProvider) probe(dev string) error {
	spec, err := gstpipe.ParseDevice(dev)
	if err != nil {
		return err
	}
	if spec.Kind != gstpipe.SourceV4L2 {
		return nil
	}
	if _, err := p.stat(spec.Device); err != nil {
		slog.Debug("streamcapture: device probe failed", "device", spec.Device, "error", err)
		return err
	}
	return nil
}
