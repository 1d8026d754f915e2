package commands

import (
	"github.com/spf13/cobra"

	"github.com/tbourn/go-circulation-backend/cmd/libctl/output"
	"github.com/tbourn/go-circulation-backend/internal/repo"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the circulation schema",
	Long: `Apply the schema for titles, copies, readers, loans, reservations,
extension requests, the two audit logs, job runs and idempotency records.

Safe to run repeatedly; existing data is kept.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := repo.AutoMigrate(db); err != nil {
			return err
		}
		output.Success(cmd.OutOrStdout(), "schema up to date (%s)", db.Dialector.Name())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
