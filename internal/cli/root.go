// Package cli holds the mealmood command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "mealmood",
	Short: "mealmood logs meals and the mood behind them",
	Long: "mealmood is a food journal service: meals are analyzed into mood, macros and line items, " +
		"and every facet can be corrected by hand or re-analyzed.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional .env file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides MEALMOOD_DB_PATH)")
}
