package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/delaycam/internal/config"
	"github.com/e7canasta/delaycam/internal/core"
	"github.com/e7canasta/delaycam/internal/logging"
	"github.com/e7canasta/delaycam/internal/tui"
)

const eventBuffer = 256

type runFlags struct {
	tui      bool
	source   string
	position string
	window   time.Duration
	addr     string
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture and buffer the camera feed",
		Long: `Start the configured camera, keep the last window of frames in memory and
serve the control surfaces (HTTP, MQTT, and optionally the terminal panel).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDelaycam(cmd, flags, rf)
		},
	}

	cmd.Flags().BoolVar(&rf.tui, "tui", false, "show the terminal control panel (logs go to a file)")
	cmd.Flags().StringVar(&rf.source, "source", "", "capture source: gstreamer or mock")
	cmd.Flags().StringVar(&rf.position, "position", "", "camera position to start with")
	cmd.Flags().DurationVar(&rf.window, "window", 0, "replay window (overrides buffer.window)")
	cmd.Flags().StringVar(&rf.addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}

func runDelaycam(cmd *cobra.Command, flags *globalFlags, rf *runFlags) error {
	loader, cfg, err := loadConfig(cmd, flags, map[string]string{
		"capture.source":   "source",
		"capture.position": "position",
		"buffer.window":    "window",
		"server.addr":      "addr",
	})
	if err != nil {
		return err
	}

	var events chan logging.Event
	logOut := io.Writer(os.Stderr)
	if rf.tui {
		logFile, err := logging.OpenFile(filepath.Join(config.ConfigDir(), "delaycam.log"))
		if err != nil {
			return err
		}
		defer logFile.Close()
		logOut = logFile
		events = make(chan logging.Event, eventBuffer)
	}

	levelVar, err := setupLogging(logOut, cfg.Logging, events)
	if err != nil {
		return err
	}

	slog.Info("starting delaycam",
		"version", version,
		"config", loader.ConfigFileUsed(),
		"source", cfg.Capture.Source,
		"position", cfg.Capture.Position,
		"window", cfg.Buffer.Window,
	)

	opts := []core.Option{core.WithLevelVar(levelVar)}
	if loader.ConfigFileUsed() != "" {
		opts = append(opts, core.WithLoader(loader))
	}
	d, err := core.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx)
	}()

	var runErr error
	if rf.tui {
		runErr = runPanel(ctx, d, events, errCh)
	} else {
		select {
		case <-ctx.Done():
			slog.Info("received shutdown signal")
		case runErr = <-errCh:
		}
	}
	cancel()

	if runErr != nil {
		slog.Error("delaycam error", "error", runErr)
	}

	timeout := d.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}

// runPanel shows the terminal panel until the user quits, the service fails
// or a signal arrives.
func runPanel(ctx context.Context, d *core.Delaycam, events <-chan logging.Event, errCh <-chan error) error {
	panelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	panelErr := make(chan error, 1)
	go func() {
		panelErr <- tui.Run(panelCtx, d.Panel(), events)
	}()

	select {
	case err := <-errCh:
		cancel()
		<-panelErr
		return err
	case err := <-panelErr:
		return err
	}
}

// setupLogging installs the default logger. With events non-nil, info and
// above are also forwarded to the panel; a full channel drops the event.
func setupLogging(w io.Writer, cfg config.LoggingConfig, events chan<- logging.Event) (*slog.LevelVar, error) {
	levelVar, err := logging.Setup(w, cfg.Level, cfg.Format)
	if err != nil {
		return nil, err
	}
	if events == nil {
		return levelVar, nil
	}

	handler, err := logging.NewHandler(w, levelVar, cfg.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(logging.NewTee(handler, slog.LevelInfo, func(e logging.Event) {
		select {
		case events <- e:
		default:
		}
	})))
	return levelVar, nil
}
