package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creastat/sessionstore/supabase"
)

// NewSchemaCommand creates the schema command. It needs no configuration.
func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema supabase",
		Short: "Print the SQL functions the Supabase driver requires",
		Long: `Print the SQL functions the Supabase driver requires.

Apply the output once per project, for example:
  sessionstore schema supabase | psql "$DATABASE_URL"`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"supabase"},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "supabase" {
				return fmt.Errorf("unknown schema %q: only supabase is supported", args[0])
			}
			fmt.Fprint(cmd.OutOrStdout(), supabase.SchemaSQL)
			return nil
		},
	}
}
