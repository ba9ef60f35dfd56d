package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/e7canasta/delaycam/internal/logging"
)

// Run shows the panel until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, events <-chan logging.Event) error {
	p := tea.NewProgram(New(ctrl, events), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
