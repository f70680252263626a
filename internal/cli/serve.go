package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fossclaw/fossclaw/internal/app"
	"github.com/fossclaw/fossclaw/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start fossclaw (default when no subcommand is given)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	a, err := app.New(cfg, version, logger)
	if err != nil {
		logger.Error("failed to initialize fossclaw", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("fossclaw starting", "version", version, "port", cfg.Port)

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("fossclaw error", "error", err)
		os.Exit(1)
	}

	logger.Info("fossclaw stopped")
	return nil
}
