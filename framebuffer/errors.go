package framebuffer

import "errors"

var (
	// ErrOutOfOrderFrame is returned by Append when a frame's timestamp is not
	// after the most recently accepted one. The frame is dropped and the
	// buffer is unchanged.
	ErrOutOfOrderFrame = errors.New("framebuffer: out-of-order frame")

	// ErrInvalidWindow is returned when a non-positive window duration is
	// requested.
	ErrInvalidWindow = errors.New("framebuffer: invalid window")

	// ErrCapacityTooLarge is returned when window × rate exceeds MaxCapacity.
	// The buffer is unchanged.
	ErrCapacityTooLarge = errors.New("framebuffer: capacity too large")

	// ErrInvalidFrameRate is returned when the assumed frame rate is not a
	// positive finite number.
	ErrInvalidFrameRate = errors.New("framebuffer: invalid frame rate")
)
