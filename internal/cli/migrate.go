package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mealmood/internal/config"
	"github.com/dukerupert/mealmood/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		path := cfg.DBPath
		if dbPath != "" {
			path = dbPath
		}

		db, err := database.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()

		v, err := database.Version(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database %s at schema version %d\n", path, v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
