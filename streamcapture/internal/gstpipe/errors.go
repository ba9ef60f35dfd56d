package gstpipe

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline errors for telemetry and retry decisions.
type ErrorCategory int

const (
	// ErrCategoryDevice covers missing, busy or disconnected devices
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryPermission covers access denied on the device node
	ErrCategoryPermission
	// ErrCategoryCodec covers caps negotiation and format failures
	ErrCategoryCodec
	// ErrCategoryUnknown is everything else
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Retryable reports whether reconnecting may clear the error. Permission and
// negotiation failures do not fix themselves.
func (e ErrorCategory) Retryable() bool {
	return e == ErrCategoryDevice || e == ErrCategoryUnknown
}

var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"eacces",
		"access denied",
		"not authorized",
	}

	codecKeywords = []string{
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"codec",
		"decode",
		"missing plugin",
		"no decoder",
	}

	deviceKeywords = []string{
		"no such file",
		"no such device",
		"cannot identify device",
		"could not open device",
		"device or resource busy",
		"busy",
		"not a capture device",
		"disconnected",
		"resource not found",
		"failed to allocate",
		"v4l2",
		"avfvideosrc",
	}
)

// ClassifyGStreamerError categorizes a bus error by message heuristics; go-gst
// does not expose the GError domain.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

// ClassifyMessage categorizes an error from its message and debug strings.
// Permission wins over codec, codec over device.
func ClassifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
