// guardian-cli is the operator tool of the guardian scoring service: it
// replays recorded ticks offline, validates config files, hashes operator
// passwords and queries a running server.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	cmd := &cobra.Command{
		Use:   "guardian-cli",
		Short: "Operator tool for the guardian scoring service",
		Long: `guardian-cli replays recorded tick streams through the scoring engine,
validates configuration files, hashes operator passwords and reads the
status of a running guardian server.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newReplayCmd(),
		newValidateConfigCmd(),
		newHashPasswordCmd(),
		newStatusCmd(),
	)

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}
