package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leaprepl/internal/demo"
)

// NewDemoCommand creates the demo command.
func NewDemoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo [path]",
		Short: "Create the demo SQLite database",
		Long: `Create (or migrate) the demo SQLite database and print its connection string.

The database holds customers, products and orders. It is used automatically
when no database is configured.`,
		Example: `  # Create the demo database in the default location
  leaprepl demo

  # Create it elsewhere and use it
  export DATABASE_DEMO_URL=$(leaprepl demo ./demo.db)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := demo.DefaultPath()
			if len(args) == 1 {
				path = args[0]
			}
			url, err := demo.Create(cmd.Context(), path)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}
