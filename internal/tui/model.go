// Package tui is the terminal control panel: buffer gauge, delay window
// slider, camera toggle and a feed of recent log events.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/e7canasta/delaycam/internal/logging"
)

// Window slider bounds and step.
const (
	MinWindow  = time.Second
	MaxWindow  = 60 * time.Second
	WindowStep = time.Second

	maxEvents     = 200
	tickInterval  = 250 * time.Millisecond
	toggleTimeout = 10 * time.Second
)

// Status is what the panel displays.
type Status struct {
	State     string
	Position  string
	Retained  int
	Capacity  int
	Window    time.Duration
	FrameRate float64
	Drift     time.Duration
	Delivered uint64
	Rejected  uint64
}

// Controller is the running delaycam as seen by the panel.
type Controller interface {
	Status() Status
	SetWindow(window time.Duration) error
	// ToggleCamera switches between the back and front cameras and returns
	// the new position.
	ToggleCamera(ctx context.Context) (string, error)
}

type tickMsg time.Time

type eventMsg logging.Event

type toggleResultMsg struct {
	position string
	err      error
}

// Model holds the panel state.
type Model struct {
	ctrl   Controller
	events <-chan logging.Event

	status    Status
	message   string
	switching bool

	width  int
	height int

	gauge    progress.Model
	viewport viewport.Model
	lines    []string
}

// New returns a Model. events may be nil.
func New(ctrl Controller, events <-chan logging.Event) Model {
	gauge := progress.New(progress.WithDefaultGradient())
	gauge.Width = 40

	vp := viewport.New(80, 10)
	vp.MouseWheelEnabled = true

	return Model{
		ctrl:     ctrl,
		events:   events,
		status:   ctrl.Status(),
		gauge:    gauge,
		viewport: vp,
	}
}

// Init starts the refresh ticker and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitForEvent())
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m Model) toggleCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), toggleTimeout)
		defer cancel()
		pos, err := ctrl.ToggleCamera(ctx)
		return toggleResultMsg{position: pos, err: err}
	}
}

// nextWindow moves the window one step in dir, snapping to whole seconds and
// clamping to the slider bounds.
func nextWindow(current time.Duration, dir int) time.Duration {
	w := current.Round(WindowStep) + time.Duration(dir)*WindowStep
	if w < MinWindow {
		return MinWindow
	}
	if w > MaxWindow {
		return MaxWindow
	}
	return w
}

func (m *Model) addEvent(e logging.Event) {
	line := fmt.Sprintf("%s %-5s %s", time.Now().Format("15:04:05"), e.Level.String(), e.Message)
	if e.Attrs != "" {
		line += "  " + e.Attrs
	}
	m.lines = append(m.lines, line)
	if len(m.lines) > maxEvents {
		m.lines = m.lines[len(m.lines)-maxEvents:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}
