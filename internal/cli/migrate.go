package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vietddude/uptime/internal/control"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		store, _, err := control.OpenStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		version, err := control.SchemaVersion(ctx, store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, cfg.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
