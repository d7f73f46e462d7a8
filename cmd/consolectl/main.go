// Command consolectl holds the operator tasks of the courier console:
// database migrations, stock imports from Excel and dev tokens.
package main

import (
	"fmt"
	"os"

	"courier-console-api/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    *config.Config
	logger *zap.Logger
	dsn    string
)

var rootCmd = &cobra.Command{
	Use:           "consolectl",
	Short:         "Operator tooling for the courier console API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if dsn == "" {
			dsn = cfg.DatabaseDSN
		}
		var err error
		logger, err = cfg.NewLogger()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DB_DSN)")
	rootCmd.AddCommand(migrateCmd, importStockCmd, tokenCmd)
}

func requireDSN() error {
	if dsn == "" {
		return fmt.Errorf("a database is required: set DB_DSN or --dsn")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
