package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"courier-console-api/internal/stock"

	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMappingPath = "configs/mapping/stock_import.yaml"
	DefaultMaxErrors   = 50
)

var (
	ErrMissingColumn = errors.New("required column not found")
	ErrNoSheet       = errors.New("sheet not found")
)

// Options configures one stock import run
type Options struct {
	OrgID       int64
	WarehouseID int64
	PerformedBy *int64
	MappingPath string // empty uses the built-in mapping
	SetCounts   bool   // rows are absolute counts instead of receipts
	DryRun      bool
	MaxErrors   int    // non-positive uses DefaultMaxErrors
}

// Mapping describes how spreadsheet headers map onto stock fields.
// Columns maps a field (sku, name, category, unit, quantity, reference)
// to the header names accepted for it.
type Mapping struct {
	Version     int                 `yaml:"version"`
	Sheet       string              `yaml:"sheet"`
	DefaultUnit string              `yaml:"default_unit"`
	Columns     map[string][]string `yaml:"columns"`
}

// Summary is the result of an import
type Summary struct {
	Rows         int                   `json:"rows"`
	Skipped      int                   `json:"skipped"`
	Applied      int                   `json:"applied"`
	CreatedItems int                   `json:"created_items"`
	Failed       int                   `json:"failed"`
	Errors       []stock.BatchRowError `json:"errors,omitempty"`
	DryRun       bool                  `json:"dry_run"`
}

// Applier writes parsed rows to the stock ledger.
type Applier interface {
	ApplyBatch(ctx context.Context, orgID int64, performedBy *int64, warehouseID int64, rows []stock.BatchRow, setCounts, dryRun bool, maxErrors int) (stock.BatchResult, error)
}

func DefaultMapping() *Mapping {
	return &Mapping{
		Version:     1,
		DefaultUnit: "pcs",
		Columns: map[string][]string{
			"sku":       {"SKU", "Item Code", "Code"},
			"name":      {"Name", "Item", "Description"},
			"category":  {"Category", "Type"},
			"unit":      {"Unit", "UOM"},
			"quantity":  {"Quantity", "Qty", "Count"},
			"reference": {"Reference", "Ref", "PO"},
		},
	}
}

// LoadMapping reads a YAML mapping file. An empty path returns DefaultMapping.
func LoadMapping(path string) (*Mapping, error) {
	if path == "" {
		return DefaultMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	for _, field := range []string{"sku", "quantity"} {
		if len(m.Columns[field]) == 0 {
			return nil, fmt.Errorf("mapping has no headers for %q", field)
		}
	}
	if m.DefaultUnit == "" {
		m.DefaultUnit = "pcs"
	}
	return &m, nil
}

// Import parses an .xlsx workbook and loads its rows into one warehouse
func Import(ctx context.Context, applier Applier, r io.Reader, opts Options) (Summary, error) {
	summary := Summary{DryRun: opts.DryRun}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}

	mapping, err := LoadMapping(opts.MappingPath)
	if err != nil {
		return summary, err
	}

	// xlsx needs random access, so buffer the upload
	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("read workbook: %w", err)
	}

	rows, parsed, err := ParseWorkbook(data, mapping)
	if err != nil {
		return summary, err
	}
	summary.Rows = parsed.Rows
	summary.Skipped = parsed.Skipped
	summary.Failed = len(parsed.Errors)
	summary.Errors = parsed.Errors
	if summary.Failed > opts.MaxErrors {
		return summary, fmt.Errorf("%w (%d)", stock.ErrTooManyErrors, summary.Failed)
	}
	if len(rows) == 0 {
		return summary, nil
	}

	// Parse failures spend the same budget; what is left may be zero.
	res, err := applier.ApplyBatch(ctx, opts.OrgID, opts.PerformedBy, opts.WarehouseID, rows,
		opts.SetCounts, opts.DryRun, opts.MaxErrors-summary.Failed)
	summary.Applied = res.Applied
	summary.CreatedItems = res.CreatedItems
	summary.Failed += res.Failed
	summary.Errors = append(summary.Errors, res.Errors...)
	return summary, err
}

// ParseResult counts what ParseWorkbook saw besides the rows it returns.
type ParseResult struct {
	Rows    int
	Skipped int
	Errors  []stock.BatchRowError
}

// ParseWorkbook reads the mapped sheet. Line numbers are 1-based and count
// the header row, matching what a spreadsheet shows.
func ParseWorkbook(data []byte, m *Mapping) ([]stock.BatchRow, ParseResult, error) {
	var res ParseResult

	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, res, fmt.Errorf("open workbook: %w", err)
	}

	sheet, err := pickSheet(wb, m.Sheet)
	if err != nil {
		return nil, res, err
	}

	header, err := sheet.Row(0)
	if err != nil {
		return nil, res, fmt.Errorf("read header row: %w", err)
	}
	columns := matchHeader(header, sheet.MaxCol, m)
	for _, field := range []string{"sku", "quantity"} {
		if _, ok := columns[field]; !ok {
			return nil, res, fmt.Errorf("%w: %s", ErrMissingColumn, field)
		}
	}

	var rows []stock.BatchRow
	for i := 1; i < sheet.MaxRow; i++ {
		row, err := sheet.Row(i)
		if err != nil {
			break
		}
		values := make(map[string]string, len(columns))
		for field, col := range columns {
			if v := strings.TrimSpace(row.GetCell(col).String()); v != "" {
				values[field] = v
			}
		}
		if len(values) == 0 {
			res.Skipped++
			continue
		}
		res.Rows++

		br, err := buildRow(i+1, values, m.DefaultUnit)
		if err != nil {
			res.Errors = append(res.Errors, stock.BatchRowError{Line: i + 1, SKU: values["sku"], Message: err.Error()})
			continue
		}
		rows = append(rows, br)
	}
	return rows, res, nil
}

func pickSheet(wb *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := wb.Sheet[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSheet, name)
		}
		return sheet, nil
	}
	if len(wb.Sheets) == 0 {
		return nil, ErrNoSheet
	}
	return wb.Sheets[0], nil
}

func matchHeader(header *xlsx.Row, maxCol int, m *Mapping) map[string]int {
	columns := make(map[string]int)
	for col := 0; col < maxCol; col++ {
		name := strings.TrimSpace(header.GetCell(col).String())
		if name == "" {
			continue
		}
		for field, aliases := range m.Columns {
			if _, taken := columns[field]; taken {
				continue
			}
			for _, alias := range aliases {
				if strings.EqualFold(alias, name) {
					columns[field] = col
					break
				}
			}
		}
	}
	return columns
}

func buildRow(line int, values map[string]string, defaultUnit string) (stock.BatchRow, error) {
	br := stock.BatchRow{Line: line, SKU: values["sku"], Name: values["name"], Unit: values["unit"]}
	if br.SKU == "" {
		return br, errors.New("sku is empty")
	}
	if br.Name == "" {
		br.Name = br.SKU
	}
	if br.Unit == "" {
		br.Unit = defaultUnit
	}
	if v, ok := values["category"]; ok {
		br.Category = &v
	}
	if v, ok := values["reference"]; ok {
		br.Reference = &v
	}

	qty, err := parseQuantity(values["quantity"])
	if err != nil {
		return br, err
	}
	br.Quantity = qty
	return br, nil
}

// parseQuantity accepts whole numbers, including spreadsheet floats like "12.0".
func parseQuantity(s string) (int, error) {
	if s == "" {
		return 0, errors.New("quantity is empty")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("quantity %d is negative", n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	if f < 0 || f != float64(int(f)) {
		return 0, fmt.Errorf("quantity %q is not a whole non-negative number", s)
	}
	return int(f), nil
}
