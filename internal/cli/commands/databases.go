package commands

import (
	"github.com/spf13/cobra"
)

// databaseInfo is the listing of one descriptor. Credentials are left out.
type databaseInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Dialect     string `json:"dialect"`
	Description string `json:"description"`
	Sandbox     string `json:"sandbox,omitempty"`
}

// NewDatabasesCommand creates the databases command.
func NewDatabasesCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "databases",
		Short: "List configured databases",
		Long: `List the databases scripts can be bound to, in the order the API reports them.

Databases come from the databases section of leaprepl.yaml and from
DATABASE_<NAME>_URL style environment variables. The demo database is
listed when nothing is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			cc, err := NewCommandContextWithoutService(cmd)
			if err != nil {
				return err
			}

			if format != FormatJSON {
				renderDatabases(cmd.OutOrStdout(), cc.Catalog.All(), nil, format)
				return nil
			}
			out := make([]databaseInfo, 0)
			for _, d := range cc.Catalog.All() {
				out = append(out, databaseInfo{
					ID:          d.ID,
					Name:        d.Name,
					Dialect:     d.Dialect,
					Description: d.Description,
					Sandbox:     d.SandboxHostPort,
				})
			}
			return writeIndentedJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", FormatText, "Output format (text|json|csv|markdown)")

	return cmd
}
