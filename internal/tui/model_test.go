package tui

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/e7canasta/delaycam/internal/logging"
)

type fakeController struct {
	status    Status
	windows   []time.Duration
	toggleErr error
}

func (f *fakeController) Status() Status { return f.status }

func (f *fakeController) SetWindow(w time.Duration) error {
	f.windows = append(f.windows, w)
	f.status.Window = w
	return nil
}

func (f *fakeController) ToggleCamera(context.Context) (string, error) {
	if f.toggleErr != nil {
		return "", f.toggleErr
	}
	if f.status.Position == "back" {
		f.status.Position = "front"
	} else {
		f.status.Position = "back"
	}
	return f.status.Position, nil
}

func newFake() *fakeController {
	return &fakeController{status: Status{
		State:     "running",
		Position:  "back",
		Window:    5 * time.Second,
		Capacity:  150,
		Retained:  75,
		FrameRate: 30,
	}}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNextWindow(t *testing.T) {
	tests := []struct {
		current time.Duration
		dir     int
		want    time.Duration
	}{
		{5 * time.Second, 1, 6 * time.Second},
		{5 * time.Second, -1, 4 * time.Second},
		{1 * time.Second, -1, MinWindow},
		{60 * time.Second, 1, MaxWindow},
		{2500 * time.Millisecond, 1, 4 * time.Second},
		{300 * time.Millisecond, -1, MinWindow},
		{90 * time.Second, -1, MaxWindow},
	}
	for _, tt := range tests {
		if got := nextWindow(tt.current, tt.dir); got != tt.want {
			t.Errorf("nextWindow(%v, %d) = %v, want %v", tt.current, tt.dir, got, tt.want)
		}
	}
}

func TestUpdate_WindowKeys(t *testing.T) {
	ctrl := newFake()
	m := New(ctrl, nil)

	m, _ = update(t, m, key("+"))
	m, _ = update(t, m, key("+"))
	m, _ = update(t, m, key("-"))

	want := []time.Duration{6 * time.Second, 7 * time.Second, 6 * time.Second}
	if len(ctrl.windows) != len(want) {
		t.Fatalf("SetWindow calls = %v, want %v", ctrl.windows, want)
	}
	for i := range want {
		if ctrl.windows[i] != want[i] {
			t.Errorf("SetWindow #%d = %v, want %v", i, ctrl.windows[i], want[i])
		}
	}
	if m.status.Window != 6*time.Second {
		t.Errorf("displayed window = %v", m.status.Window)
	}
}

func TestUpdate_WindowAtBound(t *testing.T) {
	ctrl := newFake()
	ctrl.status.Window = MinWindow
	m := New(ctrl, nil)

	update(t, m, key("-"))
	if len(ctrl.windows) != 0 {
		t.Errorf("SetWindow called at lower bound: %v", ctrl.windows)
	}
}

func TestUpdate_ToggleCamera(t *testing.T) {
	ctrl := newFake()
	m := New(ctrl, nil)

	m, cmd := update(t, m, key("c"))
	if cmd == nil || !m.switching {
		t.Fatal("toggle did not start a switch")
	}

	// A second press while switching is ignored.
	m2, cmd2 := update(t, m, key("c"))
	if cmd2 != nil || !strings.Contains(m2.message, "in progress") {
		t.Errorf("second toggle: cmd=%v message=%q", cmd2, m2.message)
	}

	m, _ = update(t, m, cmd())
	if m.switching || m.status.Position != "front" || m.message != "camera: front" {
		t.Errorf("after toggle: switching=%v position=%q message=%q", m.switching, m.status.Position, m.message)
	}
}

func TestUpdate_ToggleFailure(t *testing.T) {
	ctrl := newFake()
	ctrl.toggleErr = errors.New("capture: device unavailable")
	m := New(ctrl, nil)

	m, cmd := update(t, m, key("c"))
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.message, "device unavailable") || m.status.Position != "back" {
		t.Errorf("message=%q position=%q", m.message, m.status.Position)
	}
}

func TestUpdate_Events(t *testing.T) {
	events := make(chan logging.Event, 1)
	m := New(newFake(), events)

	events <- logging.Event{Level: slog.LevelWarn, Message: "capture: frame rejected", Attrs: "seq=4"}
	msg := m.waitForEvent()()
	m, cmd := update(t, m, msg)
	if cmd == nil {
		t.Error("event handling did not re-arm the listener")
	}
	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "frame rejected  seq=4") {
		t.Errorf("lines = %q", m.lines)
	}
}

func TestUpdate_Quit(t *testing.T) {
	_, cmd := update(t, New(newFake(), nil), key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestView(t *testing.T) {
	m, _ := update(t, New(newFake(), nil), tea.WindowSizeMsg{Width: 100, Height: 30})
	out := m.View()
	for _, want := range []string{"delaycam", "running", "back", "75/150", "5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
