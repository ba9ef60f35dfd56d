package gstpipe

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// SourceKind identifies the GStreamer element producing raw video.
type SourceKind int

const (
	// SourceV4L2 reads a Linux video device node (v4l2src)
	SourceV4L2 SourceKind = iota
	// SourceAVF reads a macOS AVFoundation device by index (avfvideosrc)
	SourceAVF
	// SourceTest generates a synthetic pattern (videotestsrc)
	SourceTest
)

// String returns the GStreamer factory name for the kind.
func (k SourceKind) String() string {
	switch k {
	case SourceV4L2:
		return "v4l2src"
	case SourceAVF:
		return "avfvideosrc"
	case SourceTest:
		return "videotestsrc"
	default:
		return "unknown"
	}
}

// SourceSpec is a parsed device string.
type SourceSpec struct {
	Kind SourceKind
	// Device is the node path (v4l2)
	Device string
	// Index is the AVFoundation device index
	Index int
	// Pattern is the videotestsrc pattern name
	Pattern string
}

// ParseDevice interprets a device string.
//
// Accepted forms:
//
//	test:<pattern>   videotestsrc (e.g. test:smpte, test:ball)
//	avf:<index>      avfvideosrc
//	<index>          avfvideosrc on darwin, /dev/video<index> elsewhere
//	/dev/videoN      v4l2src
func ParseDevice(device string) (SourceSpec, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return SourceSpec{}, fmt.Errorf("empty device string")
	}

	if pattern, ok := strings.CutPrefix(device, "test:"); ok {
		if pattern == "" {
			pattern = "smpte"
		}
		return SourceSpec{Kind: SourceTest, Pattern: pattern}, nil
	}

	if idx, ok := strings.CutPrefix(device, "avf:"); ok {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return SourceSpec{}, fmt.Errorf("invalid avf device index %q", idx)
		}
		return SourceSpec{Kind: SourceAVF, Index: n}, nil
	}

	if n, err := strconv.Atoi(device); err == nil && n >= 0 {
		if runtime.GOOS == "darwin" {
			return SourceSpec{Kind: SourceAVF, Index: n}, nil
		}
		return SourceSpec{Kind: SourceV4L2, Device: fmt.Sprintf("/dev/video%d", n)}, nil
	}

	return SourceSpec{Kind: SourceV4L2, Device: device}, nil
}

// PipelineConfig contains configuration for pipeline creation.
type PipelineConfig struct {
	Source    SourceSpec
	Width     int
	Height    int
	TargetFPS float64
	Format    string
}

// PipelineElements holds the elements needed after creation (caps hot-reload,
// callbacks and teardown).
type PipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	Source     *gst.Element
	VideoRate  *gst.Element
	CapsFilter *gst.Element
}

// CreatePipeline builds, but does not start, a capture pipeline:
//
//	<source> → videoconvert → videoscale → videorate → capsfilter → appsink
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := newSourceElement(cfg.Source)
	if err != nil {
		return nil, err
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := BuildCaps(cfg.Format, cfg.Width, cfg.Height, cfg.TargetFPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 2)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("gstpipe: pipeline created",
		"source", cfg.Source.Kind.String(),
		"caps", capsStr,
	)

	return &PipelineElements{
		Pipeline:   pipeline,
		AppSink:    appsink,
		Source:     src,
		VideoRate:  videorate,
		CapsFilter: capsfilter,
	}, nil
}

func newSourceElement(spec SourceSpec) (*gst.Element, error) {
	src, err := gst.NewElement(spec.Kind.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", spec.Kind, err)
	}

	switch spec.Kind {
	case SourceV4L2:
		src.SetProperty("device", spec.Device)
	case SourceAVF:
		src.SetProperty("device-index", spec.Index)
	case SourceTest:
		src.SetProperty("is-live", true)
		src.SetArg("pattern", spec.Pattern)
	}
	return src, nil
}

// UpdateCaps swaps the capsfilter caps on a live pipeline.
func UpdateCaps(capsfilter *gst.Element, format string, width, height int, fps float64) error {
	if capsfilter == nil {
		return fmt.Errorf("capsfilter is nil")
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(BuildCaps(format, width, height, fps)))
	return nil
}

// DestroyPipeline sets the pipeline to NULL, releasing the device. Safe on nil.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// BuildCaps returns the raw-video caps string for the capsfilter.
//
// Fractional rates below 1 Hz become 1/N (0.5 → 1/2); other rates are
// expressed in thousandths so 29.97 survives as 29970/1000.
func BuildCaps(format string, width, height int, fps float64) string {
	if format == "" {
		format = "RGB"
	}

	num, den := 1, 1
	switch {
	case fps < 1.0:
		den = int(1.0/fps + 0.5)
	case fps == float64(int(fps)):
		num = int(fps)
	default:
		num, den = int(fps*1000+0.5), 1000
	}

	return fmt.Sprintf(
		"video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		format, width, height, num, den,
	)
}

// BytesPerPixel returns the packed pixel size for the raw formats the
// capsfilter accepts, or 0 when unknown.
func BytesPerPixel(format string) int {
	switch strings.ToUpper(format) {
	case "RGB", "BGR":
		return 3
	case "RGBA", "BGRA", "RGBX", "BGRX":
		return 4
	case "GRAY8":
		return 1
	default:
		return 0
	}
}
