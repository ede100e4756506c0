package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meshrelay/internal/app"
	"meshrelay/internal/config"
)

const startupTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	cfg, loadErr := config.Load()
	if cfg == nil {
		cfg = &config.Config{}
	}
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relay node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if loadErr != nil {
				return loadErr
			}
			out, closeLog, err := logOutput(logFile, cfg.TUI)
			if err != nil {
				return err
			}
			defer closeLog()
			log, err := app.NewLogger(out, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			a, err := app.New(ctx, cfg, log)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("startup failed")
				return err
			}
			a.Start()
			return app.WaitForShutdown(a)
		},
	}
	config.BindFlags(cmd.Flags(), cfg)
	cmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")
	return cmd
}

// logOutput picks where logs go. The monitor owns the terminal, so without a
// log file its logs are discarded.
func logOutput(path string, tui bool) (io.Writer, func(), error) {
	switch {
	case path != "":
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	case tui:
		return io.Discard, func() {}, nil
	default:
		return os.Stderr, func() {}, nil
	}
}
