package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// headerLines is the height of everything above the events viewport.
const headerLines = 9

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10)

	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("250")).
			Padding(0, 1)
)

// View renders the panel.
func (m Model) View() string {
	s := m.status

	var b strings.Builder
	b.WriteString(headerStyle.Render("delaycam"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	row("camera", fmt.Sprintf("%s  %s", stateStyle(s.State).Render(s.State), s.Position))
	row("window", fmt.Sprintf("%s  [%s..%s]", s.Window, MinWindow, MaxWindow))
	row("buffer", fmt.Sprintf("%s %d/%d", m.gauge.ViewAs(fill(s)), s.Retained, s.Capacity))
	row("rate", fmt.Sprintf("%.2f fps assumed  drift %s", s.FrameRate, s.Drift))
	row("frames", fmt.Sprintf("%d delivered  %d rejected", s.Delivered, s.Rejected))
	b.WriteByte('\n')

	b.WriteString(m.viewport.View())
	b.WriteByte('\n')

	bar := "+/- window  c camera  q quit"
	if m.message != "" {
		bar = m.message + "  |  " + bar
	}
	b.WriteString(statusBarStyle.Width(max(m.width, len(bar)+2)).Render(bar))
	return b.String()
}

func fill(s Status) float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return min(1, float64(s.Retained)/float64(s.Capacity))
}

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "running":
		return runningStyle
	case "configuring":
		return busyStyle
	default:
		return stoppedStyle
	}
}
