package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"courier-console-api/internal/stock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

func workbook(t *testing.T, sheetName string, rows ...[]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, values := range rows {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

type fakeApplier struct {
	calls     int
	rows      []stock.BatchRow
	setCounts bool
	dryRun    bool
	maxErrors int
	result    stock.BatchResult
	err       error
}

func (f *fakeApplier) ApplyBatch(_ context.Context, _ int64, _ *int64, _ int64, rows []stock.BatchRow, setCounts, dryRun bool, maxErrors int) (stock.BatchResult, error) {
	f.calls++
	f.rows = rows
	f.setCounts = setCounts
	f.dryRun = dryRun
	f.maxErrors = maxErrors
	return f.result, f.err
}

func TestParseWorkbook(t *testing.T) {
	data := workbook(t, "Stock",
		[]string{"Item Code", "Description", "Qty", "UOM", "Ref"},
		[]string{"BOX-S", "Small box", "12", "", "PO-1"},
		[]string{"TAPE", "", "4.0", "roll", ""},
		[]string{"", "No code", "3", "", ""},
		[]string{"BAD", "Bad qty", "lots", "", ""},
		[]string{"NEG", "Negative", "-2", "", ""},
	)

	rows, res, err := ParseWorkbook(data, DefaultMapping())
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, stock.BatchRow{Line: 2, SKU: "BOX-S", Name: "Small box", Unit: "pcs", Quantity: 12, Reference: ptr("PO-1")}, rows[0])
	assert.Equal(t, "TAPE", rows[1].Name, "name falls back to sku")
	assert.Equal(t, "roll", rows[1].Unit)
	assert.Equal(t, 4, rows[1].Quantity)

	assert.Equal(t, 5, res.Rows)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, 4, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Message, "sku")
	assert.Equal(t, "BAD", res.Errors[1].SKU)
	assert.Contains(t, res.Errors[2].Message, "negative")
}

func TestParseWorkbookMissingColumn(t *testing.T) {
	data := workbook(t, "Stock", []string{"SKU", "Name"}, []string{"A", "B"})
	_, _, err := ParseWorkbook(data, DefaultMapping())
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestParseWorkbookNamedSheet(t *testing.T) {
	data := workbook(t, "Stock", []string{"SKU", "Qty"}, []string{"A", "1"})

	m := DefaultMapping()
	m.Sheet = "Inventory"
	_, _, err := ParseWorkbook(data, m)
	assert.ErrorIs(t, err, ErrNoSheet)

	m.Sheet = "Stock"
	rows, _, err := ParseWorkbook(data, m)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLoadMapping(t *testing.T) {
	m, err := LoadMapping("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMapping(), m)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
version: 1
sheet: Stock
columns:
  sku: [Barcode]
  quantity: [On Hand]
`), 0o600))
	m, err = LoadMapping(good)
	require.NoError(t, err)
	assert.Equal(t, "Stock", m.Sheet)
	assert.Equal(t, "pcs", m.DefaultUnit)
	assert.Equal(t, []string{"Barcode"}, m.Columns["sku"])

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("columns:\n  sku: [Barcode]\n"), 0o600))
	_, err = LoadMapping(bad)
	assert.Error(t, err)

	_, err = LoadMapping(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestImport(t *testing.T) {
	data := workbook(t, "Stock",
		[]string{"SKU", "Qty"},
		[]string{"A", "5"},
		[]string{"B", "x"},
	)

	t.Run("merges parse and apply results", func(t *testing.T) {
		applier := &fakeApplier{result: stock.BatchResult{Applied: 1, CreatedItems: 1}}
		sum, err := Import(context.Background(), applier, bytes.NewReader(data), Options{
			OrgID: 1, WarehouseID: 2, SetCounts: true, DryRun: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, applier.calls)
		assert.True(t, applier.setCounts)
		assert.True(t, applier.dryRun)
		assert.Equal(t, DefaultMaxErrors-1, applier.maxErrors)
		require.Len(t, applier.rows, 1)

		assert.Equal(t, 2, sum.Rows)
		assert.Equal(t, 1, sum.Applied)
		assert.Equal(t, 1, sum.CreatedItems)
		assert.Equal(t, 1, sum.Failed)
		assert.True(t, sum.DryRun)
	})

	t.Run("stops before applying when parse errors exceed the limit", func(t *testing.T) {
		applier := &fakeApplier{}
		sum, err := Import(context.Background(), applier, bytes.NewReader(data), Options{MaxErrors: -1})
		require.NoError(t, err, "non-positive limit falls back to the default")
		assert.Equal(t, 1, sum.Failed)

		_, err = Import(context.Background(), &fakeApplier{}, bytes.NewReader(workbook(t, "Stock",
			[]string{"SKU", "Qty"},
			[]string{"A", "x"},
			[]string{"B", "y"},
		)), Options{MaxErrors: 1})
		assert.ErrorIs(t, err, stock.ErrTooManyErrors)
	})

	t.Run("parse errors at the limit leave the ledger no budget", func(t *testing.T) {
		applier := &fakeApplier{err: stock.ErrTooManyErrors, result: stock.BatchResult{Failed: 1}}
		sum, err := Import(context.Background(), applier, bytes.NewReader(data), Options{MaxErrors: 1})
		assert.ErrorIs(t, err, stock.ErrTooManyErrors)
		assert.Equal(t, 1, applier.calls)
		assert.Equal(t, 0, applier.maxErrors)
		assert.Equal(t, 2, sum.Failed)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := Import(context.Background(), &fakeApplier{}, bytes.NewReader([]byte("not a workbook")), Options{})
		assert.Error(t, err)
	})
}

func ptr[T any](v T) *T { return &v }
