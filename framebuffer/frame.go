package framebuffer

import "time"

// Frame is one captured image at one point in time.
//
// Frames are immutable once appended: the buffer keeps the only retained
// reference to Data and nobody may write to it afterwards.
type Frame struct {
	// Timestamp is the capture time as a duration since an arbitrary epoch.
	// It must be strictly increasing across appended frames.
	Timestamp time.Duration
	// Data is the opaque payload (raw pixels for the built-in sources).
	Data []byte

	// Seq is the producer's sequence number
	Seq uint64
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format names the pixel layout (e.g. "RGB", "BGRA")
	Format string
	// Source identifies the camera position that produced the frame
	Source string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// Size returns the payload length in bytes.
func (f Frame) Size() int {
	return len(f.Data)
}
