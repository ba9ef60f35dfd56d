// Package streamcapture provides local camera capture using GStreamer.
//
// A CameraSource implements capture.Source: it owns one GStreamer pipeline and
// hands decoded frames to the capture controller. A DeviceProvider implements
// capture.Provider, mapping positions ("back", "front") to device strings.
//
// # Quick Start
//
//	provider := streamcapture.NewDeviceProvider(
//	    streamcapture.CameraConfig{
//	        Resolution: streamcapture.Res720p,
//	        TargetFPS:  30,
//	    },
//	    map[capture.Position]string{
//	        capture.PositionBack:  "/dev/video0",
//	        capture.PositionFront: "/dev/video1",
//	    },
//	)
//
//	buf := framebuffer.Default()
//	ctrl := capture.NewController(provider, buf)
//	defer ctrl.Close()
//
//	if err := ctrl.Reconfigure(ctx, capture.PositionBack); err != nil {
//	    log.Fatal(err)
//	}
//
// # Devices
//
// Device strings select the source element:
//
//   - /dev/videoN: v4l2src (Linux)
//   - avf:N: avfvideosrc device-index N (macOS); a bare N means the same on darwin
//   - test:PATTERN: videotestsrc (smpte, ball, snow, ...), useful without a camera
//
// # Pipeline
//
//	<source> → videoconvert → videoscale → videorate → capsfilter → appsink
//
// videorate drops (never duplicates) frames to reach TargetFPS; the capsfilter
// locks format, resolution and rate. The appsink keeps at most two buffers and
// drops older ones so a slow consumer never builds latency.
//
// # Frame Format
//
// Frames are raw interleaved pixels in CameraConfig.Format (RGB by default):
//
//   - Size: Width × Height × 3 bytes for RGB
//   - Example (720p): 1280 × 720 × 3 = 2,764,800 bytes
//
// Timestamps are left zero; the capture controller stamps every frame from
// its shared clock.
//
// # Error Handling
//
// Bus errors are classified as device, permission, codec or unknown. Device
// and unknown errors restart the pipeline with exponential backoff (1s, 2s,
// 4s, ... capped at 30s, 5 attempts). Permission and codec errors stop the
// camera at once. Counters per category are exposed in CameraStats.
//
// # Thread Safety
//
// Start, Stop, SetTargetFPS and Stats are safe for concurrent use. Stop is
// idempotent and no frame is emitted after it returns.
package streamcapture
