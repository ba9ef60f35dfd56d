package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/e7canasta/delaycam/internal/logging"
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.gauge.Width = max(10, min(60, msg.Width-30))
		m.viewport.Width = msg.Width
		m.viewport.Height = max(3, msg.Height-headerLines)

	case tickMsg:
		m.status = m.ctrl.Status()
		return m, tickCmd()

	case eventMsg:
		m.addEvent(logging.Event(msg))
		return m, m.waitForEvent()

	case toggleResultMsg:
		m.switching = false
		if msg.err != nil {
			m.message = fmt.Sprintf("camera switch failed: %v", msg.err)
		} else {
			m.message = "camera: " + msg.position
		}
		m.status = m.ctrl.Status()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "+", "=", "right":
			m.setWindow(1)

		case "-", "_", "left":
			m.setWindow(-1)

		case "c":
			if m.switching {
				m.message = "camera switch in progress"
				return m, nil
			}
			m.switching = true
			m.message = "switching camera..."
			return m, m.toggleCmd()

		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *Model) setWindow(dir int) {
	w := nextWindow(m.status.Window, dir)
	if w == m.status.Window {
		return
	}
	if err := m.ctrl.SetWindow(w); err != nil {
		m.message = fmt.Sprintf("window: %v", err)
		return
	}
	m.message = fmt.Sprintf("window set to %s", w)
	m.status = m.ctrl.Status()
}
