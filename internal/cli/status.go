package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fossclaw/fossclaw/internal/app"
	"github.com/fossclaw/fossclaw/internal/cli/dashboard"
	"github.com/fossclaw/fossclaw/internal/config"
)

// newStatusCmd starts fossclaw the same way "serve" does, but attaches the
// terminal dashboard instead of writing structured logs to stdout. There is no
// separate daemon process to dial here (unlike the teacher's runtime/hub split):
// fossclaw is one process, so "status" runs it with the dashboard as its
// foreground UI and shuts the whole process down when the user quits.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Start fossclaw with the terminal status dashboard attached",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	// Logs still flow to the event bus (dashboard's log panel); discard the
	// direct handler output since the TUI owns the screen.
	logger := slog.New(slog.NewTextHandler(devNullWriter{}, nil))

	a, err := app.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize fossclaw: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	if err := dashboard.Run(a); err != nil {
		cancel()
		return err
	}
	cancel()
	<-errCh
	return nil
}

type devNullWriter struct{}

func (devNullWriter) Write(p []byte) (int, error) { return len(p), nil }
