package main

import (
	"database/sql"
	"fmt"
	"os"

	"courier-console-api/internal/migrate"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	migrateRoot string
	withSeeds   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	Long: `Applies the files under db/migrations in lexical order and records
them in schema_migrations. With --seed the files under db/seeds run afterwards.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateRoot, "root", ".", "Directory containing db/")
	migrateCmd.Flags().BoolVar(&withSeeds, "seed", false, "Run seed files after migrating")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if err := requireDSN(); err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	root := os.DirFS(migrateRoot)
	files, err := migrate.Load(root, migrate.MigrationsDir)
	if err != nil {
		return err
	}
	m := migrate.New(db, logger)
	applied, err := m.Up(ctx, files)
	if err != nil {
		return err
	}
	logger.Info("migrations done", zap.Int("found", len(files)), zap.Int("applied", applied))

	if !withSeeds {
		return nil
	}
	seeds, err := migrate.Load(root, migrate.SeedsDir)
	if err != nil {
		return err
	}
	return m.Seed(ctx, seeds)
}
