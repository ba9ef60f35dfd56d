// Package cmd implements the delaycam command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/e7canasta/delaycam/internal/config"
)

// Set at build time with -ldflags "-X github.com/e7canasta/delaycam/internal/cmd.version=...".
var (
	version = "dev"
	commit  = "none"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "delaycam",
		Short: "Delayed replay camera",
		Long: `delaycam captures a live camera feed and keeps the most recent window of
frames in memory, so the last N seconds can be replayed on demand or watched
as a delayed live view.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"config file (default is "+config.ConfigFile()+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"log level: debug, info, warn, error (overrides logging.level)")

	root.AddCommand(
		newRunCmd(flags),
		newDevicesCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig builds a loader for the global flags, binds extra flag
// overrides and loads the configuration.
func loadConfig(cmd *cobra.Command, flags *globalFlags, bindings map[string]string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(flags.configPath)

	if cmd.Flags().Changed("log-level") {
		if err := loader.BindFlag("logging.level", cmd.Flags().Lookup("log-level")); err != nil {
			return nil, nil, err
		}
	}
	for key, name := range bindings {
		if !cmd.Flags().Changed(name) {
			continue
		}
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}
