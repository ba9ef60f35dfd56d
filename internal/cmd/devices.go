package cmd

import (
	"fmt"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/e7canasta/delaycam/capture"
	"github.com/e7canasta/delaycam/internal/core"
)

func newDevicesCmd(flags *globalFlags) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List configured camera positions and their availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(cmd, flags, map[string]string{"capture.source": "source"})
			if err != nil {
				return err
			}

			provider, err := core.NewProvider(cfg)
			if err != nil {
				return err
			}
			available := provider.Available()

			names := make([]string, 0, len(cfg.Capture.Devices))
			for name := range cfg.Capture.Devices {
				names = append(names, name)
			}
			sort.Strings(names)

			header := lipgloss.NewStyle().Bold(true)
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("POSITION", "DEVICE", "AVAILABLE").
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return header
					}
					return lipgloss.NewStyle()
				})
			for _, name := range names {
				label := name
				if name == cfg.Capture.Position {
					label += " *"
				}
				marker := "no"
				if slices.Contains(available, capture.Position(name)) {
					marker = "yes"
				}
				t.Row(label, cfg.Capture.Devices[name], marker)
			}

			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			fmt.Fprintf(cmd.OutOrStdout(), "source: %s  (* = start position)\n", cfg.Capture.Source)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "capture source: gstreamer or mock")
	return cmd
}
