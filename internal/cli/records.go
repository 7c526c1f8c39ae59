package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the session collection and index if missing",
		Long: `Create the session collection and its sid index if they are missing.

Running provision against an already provisioned database is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer closeStore()

			cfg := store.Config()
			fmt.Fprintf(cmd.OutOrStdout(), "collection %q with index %q is ready\n", cfg.Collection, cfg.Index)
			return nil
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <sid>",
		Short: "Print the session record for a sid as JSON",
		Long: `Print the session record for a sid as JSON.

A missing record prints null.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer closeStore()

			record, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <sid> <json>",
		Short: "Store a JSON object as the session payload for a sid",
		Long: `Store a JSON object as the session payload for a sid.

Example:
  sessionstore set 3f2a9c '{"user":"ada","views":3}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data map[string]any
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				return fmt.Errorf("invalid session JSON: %w", err)
			}

			store, closeStore, err := openStore(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Set(cmd.Context(), args[0], data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored session %s\n", args[0])
			return nil
		},
	}
}

// NewDestroyCommand creates the destroy command.
func NewDestroyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <sid>",
		Short: "Delete the session record for a sid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Destroy(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "destroyed session %s\n", args[0])
			return nil
		},
	}
}
