// Package cli implements fossclaw's command-line interface: serve (default),
// init, version, and status.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for fossclaw. Bare invocation (no
// subcommand) behaves as "serve".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "fossclaw",
		Short: "fossclaw — a multiplexing bridge between coding-agent CLIs and the browser",
		Long:  "fossclaw runs agent sessions as child processes, bridges them to a browser UI over websockets, and schedules cron-style jobs that spawn sessions automatically.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newStatusCmd())

	return root
}
