// Package cli provides the sessionstore operator commands.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/creastat/sessionstore/config"
)

// RootOptions holds global flags and the state PersistentPreRunE prepares
// for subcommands.
type RootOptions struct {
	ConfigFile string

	Settings *config.Settings
	Logger   *slog.Logger
}

// NewRootCommand creates the root command for the sessionstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sessionstore",
		Short: "Manage session records in a database",
		Long: `sessionstore provisions the session collection and index and reads or
writes individual session records.

Configuration:
  Config is loaded from sessionstore.yaml in the current directory or
  $HOME/.sessionstore/.

  Environment variables override config values with the SESSIONSTORE_ prefix.
  Example: SESSIONSTORE_DRIVER=redis SESSIONSTORE_REDIS_ADDR=localhost:6379`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(opts.ConfigFile)
			if err != nil {
				return err
			}
			opts.Settings = settings
			opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: settings.Level(),
			}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: ./sessionstore.yaml)")

	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewDestroyCommand(opts))
	cmd.AddCommand(NewSchemaCommand())

	return cmd
}
