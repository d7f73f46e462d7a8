package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/stock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

type fakeLedger struct {
	calls       int
	orgID       int64
	warehouseID int64
	performedBy *int64
	rows        []stock.BatchRow
	setCounts   bool
	dryRun      bool
	result      stock.BatchResult
	err         error
}

func (f *fakeLedger) ApplyBatch(_ context.Context, orgID int64, performedBy *int64, warehouseID int64, rows []stock.BatchRow, setCounts, dryRun bool, _ int) (stock.BatchResult, error) {
	f.calls++
	f.orgID = orgID
	f.performedBy = performedBy
	f.warehouseID = warehouseID
	f.rows = rows
	f.setCounts = setCounts
	f.dryRun = dryRun
	return f.result, f.err
}

type countingCache struct {
	invalidated []int64
}

func (c *countingCache) Invalidate(_ context.Context, orgID int64) error {
	c.invalidated = append(c.invalidated, orgID)
	return nil
}

func stockWorkbook(t *testing.T, rows ...[]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Stock")
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

// uploadRequest builds a multipart request; an empty filename omits the file part.
func uploadRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports/stock", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		UserID: 7,
		OrgID:  3,
		Roles:  []string{"manager"},
	}))
}

func newTestHandler(ledger *fakeLedger, cache *countingCache) *ImportsHandler {
	h := NewImportsHandler(ledger, cache, nil)
	h.DefaultMap = "" // built-in mapping
	return h
}

func TestImportsHandler_UploadStock(t *testing.T) {
	t.Run("Rejects non-multipart content type", func(t *testing.T) {
		h := newTestHandler(&fakeLedger{}, &countingCache{})
		req := httptest.NewRequest(http.MethodPost, "/imports/stock", nil)
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		h.UploadStock(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_CONTENT_TYPE")
	})

	t.Run("Rejects missing warehouse_id", func(t *testing.T) {
		h := newTestHandler(&fakeLedger{}, &countingCache{})
		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, nil, "", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "warehouse_id is required")
	})

	t.Run("Rejects invalid warehouse_id", func(t *testing.T) {
		h := newTestHandler(&fakeLedger{}, &countingCache{})
		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "-4"}, "", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "warehouse_id is required")
	})

	t.Run("Rejects unknown mode", func(t *testing.T) {
		h := newTestHandler(&fakeLedger{}, &countingCache{})
		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "1", "mode": "replace"}, "", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "mode must be add or set")
	})

	t.Run("Rejects missing file", func(t *testing.T) {
		h := newTestHandler(&fakeLedger{}, &countingCache{})
		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "1"}, "", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "file is required")
	})

	t.Run("Rejects non-xlsx file", func(t *testing.T) {
		h := newTestHandler(&fakeLedger{}, &countingCache{})
		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "1"}, "stock.csv", []byte("sku,qty\n")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_FILE")
	})

	t.Run("Applies rows and invalidates cache", func(t *testing.T) {
		ledger := &fakeLedger{result: stock.BatchResult{Applied: 2, CreatedItems: 1}}
		cache := &countingCache{}
		h := newTestHandler(ledger, cache)
		data := stockWorkbook(t,
			[]string{"SKU", "Name", "Qty"},
			[]string{"BOX-S", "Small box", "12"},
			[]string{"TAPE", "Tape", "4"},
		)

		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "9", "mode": "set"}, "stock.xlsx", data))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 1, ledger.calls)
		assert.Equal(t, int64(3), ledger.orgID)
		assert.Equal(t, int64(9), ledger.warehouseID)
		require.NotNil(t, ledger.performedBy)
		assert.Equal(t, int64(7), *ledger.performedBy)
		assert.True(t, ledger.setCounts)
		assert.False(t, ledger.dryRun)
		assert.Len(t, ledger.rows, 2)
		assert.Equal(t, []int64{3}, cache.invalidated)

		var resp struct {
			Data struct {
				Rows         int `json:"rows"`
				Applied      int `json:"applied"`
				CreatedItems int `json:"created_items"`
			} `json:"data"`
			Meta struct {
				Mode string `json:"mode"`
			} `json:"meta"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Data.Rows)
		assert.Equal(t, 2, resp.Data.Applied)
		assert.Equal(t, 1, resp.Data.CreatedItems)
		assert.Equal(t, "set", resp.Meta.Mode)
	})

	t.Run("Dry run leaves cache alone", func(t *testing.T) {
		ledger := &fakeLedger{result: stock.BatchResult{Applied: 1, DryRun: true}}
		cache := &countingCache{}
		h := newTestHandler(ledger, cache)
		data := stockWorkbook(t, []string{"SKU", "Qty"}, []string{"BOX-S", "1"})

		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "9", "dry_run": "true"}, "stock.xlsx", data))

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, ledger.dryRun)
		assert.False(t, ledger.setCounts)
		assert.Empty(t, cache.invalidated)
	})

	t.Run("Missing columns fail the import", func(t *testing.T) {
		ledger := &fakeLedger{}
		h := newTestHandler(ledger, &countingCache{})
		data := stockWorkbook(t, []string{"Name"}, []string{"Small box"})

		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "9"}, "stock.xlsx", data))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "IMPORT_FAILED")
		assert.Zero(t, ledger.calls)
	})

	t.Run("Unknown warehouse is not found", func(t *testing.T) {
		ledger := &fakeLedger{err: stock.ErrWarehouseNotFound}
		cache := &countingCache{}
		h := newTestHandler(ledger, cache)
		data := stockWorkbook(t, []string{"SKU", "Qty"}, []string{"BOX-S", "1"})

		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "404"}, "stock.xlsx", data))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, cache.invalidated)
	})

	t.Run("Too many row errors", func(t *testing.T) {
		ledger := &fakeLedger{
			result: stock.BatchResult{Failed: 2, Errors: []stock.BatchRowError{{Line: 2, Message: "insufficient stock"}, {Line: 3, Message: "insufficient stock"}}},
			err:    fmt.Errorf("%w (2)", stock.ErrTooManyErrors),
		}
		h := newTestHandler(ledger, &countingCache{})
		data := stockWorkbook(t, []string{"SKU", "Qty"}, []string{"A", "1"}, []string{"B", "1"})

		w := httptest.NewRecorder()
		h.UploadStock(w, uploadRequest(t, map[string]string{"warehouse_id": "9", "max_errors": "1"}, "stock.xlsx", data))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "IMPORT_FAILED", resp["code"])
		summary, ok := resp["summary"].(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 2, summary["failed"])
	})
}

func TestIsXLSX(t *testing.T) {
	tests := []struct {
		filename string
		expected bool
	}{
		{"stock.xlsx", true},
		{"STOCK.XLSX", true},
		{"stock.xls", false},
		{"stock.csv", false},
		{"stock", false},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.expected, isXLSX(&multipart.FileHeader{Filename: tt.filename}))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"message": "ok"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["message"])
}
