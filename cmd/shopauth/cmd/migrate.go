package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storefront/shopauth/identity/postgres"
	"github.com/storefront/shopauth/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the Postgres user schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := postgres.Migrate(cfg.DatabaseURL, direction); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", direction)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
