package capture

import (
	"fmt"
	"regexp"
	"strings"
)

// Position identifies a physical capture source (front/back camera, or a
// named external device).
type Position string

const (
	// PositionBack is the default camera
	PositionBack Position = "back"
	// PositionFront is the user-facing camera
	PositionFront Position = "front"
)

var positionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ParsePosition normalizes s into a Position.
//
// "back" and "front" are the built-in positions; any other lower-case name
// made of letters, digits, '-' and '_' names an external source.
func ParsePosition(s string) (Position, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return "", fmt.Errorf("capture: empty position")
	}
	if !positionPattern.MatchString(name) {
		return "", fmt.Errorf("capture: invalid position %q (must match [a-z0-9][a-z0-9_-]*)", s)
	}
	return Position(name), nil
}

// String returns the position name.
func (p Position) String() string {
	return string(p)
}

// Toggle returns the opposite built-in camera. Named positions toggle to back.
func (p Position) Toggle() Position {
	if p == PositionBack {
		return PositionFront
	}
	return PositionBack
}

// State is the controller's switching state.
type State int32

const (
	// StateStopped means no source is attached
	StateStopped State = iota
	// StateConfiguring means a switch is tearing down or starting a source
	StateConfiguring
	// StateRunning means exactly one source is feeding the sink
	StateRunning
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}
