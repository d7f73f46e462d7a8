package main

import (
	"fmt"
	"os"
	"strings"

	"courier-console-api/internal/stock"
	"courier-console-api/pkg/importer"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	importFile      string
	importOrgID     int64
	importWarehouse int64
	importMapping   string
	importSet       bool
	importDryRun    bool
	importMaxErrors int
)

var importStockCmd = &cobra.Command{
	Use:   "import-stock",
	Short: "Load warehouse stock from an .xlsx workbook",
	Example: `  consolectl import-stock --file stock.xlsx --org 1 --warehouse 2
  consolectl import-stock --file count.xlsx --org 1 --warehouse 2 --set --dry-run`,
	RunE: runImportStock,
}

func init() {
	f := importStockCmd.Flags()
	f.StringVar(&importFile, "file", "", "Path to the .xlsx file")
	f.Int64Var(&importOrgID, "org", 0, "Organization ID")
	f.Int64Var(&importWarehouse, "warehouse", 0, "Warehouse ID")
	f.StringVar(&importMapping, "mapping", importer.DefaultMappingPath, "Header mapping YAML (empty for built-in)")
	f.BoolVar(&importSet, "set", false, "Treat quantities as absolute counts")
	f.BoolVar(&importDryRun, "dry-run", false, "Validate without writing")
	f.IntVar(&importMaxErrors, "max-errors", importer.DefaultMaxErrors, "Abort after this many row errors")
	_ = importStockCmd.MarkFlagRequired("file")
	_ = importStockCmd.MarkFlagRequired("org")
	_ = importStockCmd.MarkFlagRequired("warehouse")
}

func runImportStock(cmd *cobra.Command, _ []string) error {
	if err := requireDSN(); err != nil {
		return err
	}
	ctx := cmd.Context()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	file, err := os.Open(importFile)
	if err != nil {
		return err
	}
	defer file.Close()

	logger.Info("importing stock",
		zap.String("file", importFile),
		zap.Int64("org_id", importOrgID),
		zap.Int64("warehouse_id", importWarehouse),
		zap.Bool("set", importSet),
		zap.Bool("dry_run", importDryRun))

	summary, err := importer.Import(ctx, stock.NewLedger(pool), file, importer.Options{
		OrgID:       importOrgID,
		WarehouseID: importWarehouse,
		MappingPath: importMapping,
		SetCounts:   importSet,
		DryRun:      importDryRun,
		MaxErrors:   importMaxErrors,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintln(out, "IMPORT SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Rows read:     %d\n", summary.Rows)
	fmt.Fprintf(out, "Rows skipped:  %d\n", summary.Skipped)
	fmt.Fprintf(out, "Applied:       %d\n", summary.Applied)
	fmt.Fprintf(out, "Items created: %d\n", summary.CreatedItems)
	fmt.Fprintf(out, "Failed:        %d\n", summary.Failed)
	fmt.Fprintf(out, "Dry run:       %v\n", summary.DryRun)
	for _, e := range summary.Errors {
		fmt.Fprintf(out, "  line %d %s: %s\n", e.Line, e.SKU, e.Message)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}
