// Package report renders tabular exports (bookings, revenue, agents,
// warehouses) as CSV or XLSX documents.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v3"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var ErrUnknownFormat = errors.New("format must be json, csv or xlsx")

// ParseFormat defaults to json.
func ParseFormat(s string) (string, error) {
	switch s {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return s, nil
	}
	return "", ErrUnknownFormat
}

func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// Table is a titled grid. Cells may be string, int, int64, float64,
// decimal.Decimal, time.Time, *string or nil.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]any
}

// Filename returns e.g. "bookings-2026-10-17.csv".
func (t Table) Filename(format string, now time.Time) string {
	return fmt.Sprintf("%s-%s.%s", t.Title, now.UTC().Format("2006-01-02"), format)
}

func (t Table) Write(w io.Writer, format string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatXLSX:
		return WriteXLSX(w, t)
	}
	return ErrUnknownFormat
}

func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = csvCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvCell prefixes text that a spreadsheet would evaluate as a formula.
// Numbers are left alone so negative amounts stay numeric.
func csvCell(v any) string {
	s := formatCell(v)
	switch v.(type) {
	case string, *string:
		if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
			return "'" + s
		}
	}
	return s
}

func WriteXLSX(w io.Writer, t Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName(t.Title))
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, c := range t.Columns {
		cell := header.AddCell()
		cell.SetString(c)
		cell.GetStyle().Font.Bold = true
	}
	for _, row := range t.Rows {
		r := sheet.AddRow()
		for _, v := range row {
			setCell(r.AddCell(), v)
		}
	}
	return f.Write(w)
}

// sheetName trims to Excel's 31 character limit.
func sheetName(title string) string {
	if title == "" {
		return "Report"
	}
	if len(title) > 31 {
		return title[:31]
	}
	return title
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case int:
		c.SetInt(x)
	case int64:
		c.SetInt64(x)
	case float64:
		c.SetFloat(x)
	case decimal.Decimal:
		c.SetFloat(x.InexactFloat64())
	case time.Time:
		c.SetDateTime(x)
	default:
		c.SetString(formatCell(v))
	}
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case *int64:
		if x == nil {
			return ""
		}
		return strconv.FormatInt(*x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.StringFixed(2)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
