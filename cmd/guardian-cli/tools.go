package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"guardian/internal/auth"
	"guardian/internal/config"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config <config.json>",
		Short: "Check a config file without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				var cerr *config.ConfigurationError
				if errors.As(err, &cerr) {
					for _, p := range cerr.Problems {
						fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (profile %s, mode %s, %d camera overrides)\n",
				args[0], cfg.Profile, cfg.Evaluation.Mode, len(cfg.Cameras))
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for GUARDIAN_AUTH_PASSWORD",
		Long:  "hash-password hashes its argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
