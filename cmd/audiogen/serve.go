package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/audiogen/internal/app"
)

const initTimeout = 30 * time.Minute

var (
	flagHost string
	flagPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the configured models and serve the HTTP API",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&flagHost, "host", "", "host to listen on (overrides config)")
	flags.IntVar(&flagPort, "port", 0, "port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, app.WithLogger(slog.Default()), app.WithEnvironment(environment))

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	err := a.Initialize(initCtx)
	cancel()
	if err != nil {
		return err
	}

	runErr := a.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("HTTP server failed", "error", runErr)
	}
	slog.Info("Shutting down")

	return errors.Join(runErr, a.Shutdown())
}
