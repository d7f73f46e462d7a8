//go:build integration

package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier-console-api/internal"
	"courier-console-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

func createBooking(t *testing.T, token string, amount string) models.Booking {
	t.Helper()
	w := do(t, server(t), http.MethodPost, "/bookings", token, map[string]any{
		"sender_name":   "Acme Trading",
		"receiver_name": "Lina Haddad",
		"pickup_city":   "Dubai",
		"delivery_city": "Abu Dhabi",
		"amount":        amount,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Booking](t, w)
}

func TestBookingLifecycle(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Lifecycle Express")

	b := createBooking(t, reg.Token, "120.50")
	assert.Equal(t, "pending", b.Status)
	assert.Regexp(t, `^CR-[0-9A-F]{10}$`, b.TrackingNumber)
	assert.True(t, b.Amount.Equal(decimal.RequireFromString("120.50")))

	w := do(t, srv, http.MethodGet, fmt.Sprintf("/bookings/%d", b.ID), reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"next_statuses":["picked_up","cancelled"]`)

	for _, status := range []string{"picked_up", "in_transit", "out_for_delivery", "delivered"} {
		w := do(t, srv, http.MethodPatch, fmt.Sprintf("/bookings/%d/status", b.ID), reg.Token, map[string]any{"status": status})
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", status, w.Body.String())
	}

	w = do(t, srv, http.MethodPatch, fmt.Sprintf("/bookings/%d/status", b.ID), reg.Token, map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TRANSITION")

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/bookings/%d/events", b.ID), reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "out_for_delivery")

	w = do(t, srv, http.MethodGet, "/track/"+b.TrackingNumber, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[models.TrackingView](t, w)
	assert.Equal(t, "delivered", view.Status)
	assert.NotNil(t, view.DeliveredAt)
	assert.Len(t, view.Events, 5)
	for _, e := range view.Events {
		assert.Nil(t, e.CreatedBy)
	}

	w = do(t, srv, http.MethodDelete, fmt.Sprintf("/bookings/%d", b.ID), reg.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBulkBillsReportFailures(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Bulk Print Co")
	a := createBooking(t, reg.Token, "10")
	b := createBooking(t, reg.Token, "20")

	w := do(t, srv, http.MethodPatch, fmt.Sprintf("/bookings/%d/status", b.ID), reg.Token, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/bookings/bulk/bills", reg.Token, map[string]any{"ids": []int64{a.ID, b.ID, 999999}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.BulkResponse[models.Bill]](t, w)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, a.TrackingNumber, resp.Documents[0].TrackingNumber)
	require.Len(t, resp.Failures, 2)
}

func TestAgentCommission(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Commission Cargo")

	w := do(t, srv, http.MethodPost, "/office-accounts", reg.Token, map[string]any{
		"name": "Marina Office", "email": "marina@cargo.test", "commission_rate": "10",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	agent := decode[models.OfficeAccount](t, w)

	w = do(t, srv, http.MethodPost, "/bookings", reg.Token, map[string]any{
		"sender_name": "S", "receiver_name": "R", "pickup_city": "Dubai", "delivery_city": "Sharjah",
		"amount": "99.95", "office_account_id": agent.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode[models.Booking](t, w)
	for _, status := range []string{"picked_up", "in_transit", "out_for_delivery", "delivered"} {
		w = do(t, srv, http.MethodPatch, fmt.Sprintf("/bookings/%d/status", b.ID), reg.Token, map[string]any{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/office-accounts/%d/commission", agent.ID), reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Commission decimal.Decimal `json:"commission"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "10.00", resp.Commission.StringFixed(2))
}

func TestStockOperations(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Stock Movers")

	w := do(t, srv, http.MethodPost, "/warehouses", reg.Token, map[string]any{"code": "main", "name": "Main", "capacity": 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	main := decode[models.Warehouse](t, w)
	assert.Equal(t, "MAIN", main.Code)

	w = do(t, srv, http.MethodPost, "/warehouses", reg.Token, map[string]any{"code": "overflow", "name": "Overflow", "capacity": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	overflow := decode[models.Warehouse](t, w)

	w = do(t, srv, http.MethodPost, fmt.Sprintf("/warehouses/%d/items", main.ID), reg.Token, map[string]any{
		"sku": "BOX-S", "name": "Small box", "reorder_level": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode[models.InventoryItem](t, w)
	assert.Zero(t, item.Quantity)

	opsPath := fmt.Sprintf("/warehouses/%d/operations", main.ID)
	inbound := map[string]any{"type": "inbound", "item_id": item.ID, "quantity": 40}

	w = do(t, srv, http.MethodPost, opsPath, reg.Token, inbound, "Idempotency-Key", "receipt-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[models.StockOperation](t, w)
	assert.Equal(t, 40, first.QuantityAfter)

	w = do(t, srv, http.MethodPost, opsPath, reg.Token, inbound, "Idempotency-Key", "receipt-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.ID, decode[models.StockOperation](t, w).ID)

	w = do(t, srv, http.MethodPost, fmt.Sprintf("/warehouses/%d/operations", overflow.ID), reg.Token, inbound, "Idempotency-Key", "receipt-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_CONFLICT")

	w = do(t, srv, http.MethodPost, opsPath, reg.Token, map[string]any{"type": "outbound", "item_id": item.ID, "quantity": 41})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "INSUFFICIENT_STOCK")

	w = do(t, srv, http.MethodPost, opsPath, reg.Token, map[string]any{
		"type": "transfer", "item_id": item.ID, "quantity": 11, "target_warehouse_id": overflow.ID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CAPACITY_EXCEEDED")

	w = do(t, srv, http.MethodPost, opsPath, reg.Token, map[string]any{
		"type": "transfer", "item_id": item.ID, "quantity": 8, "target_warehouse_id": overflow.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/warehouses/%d/stats", overflow.ID), reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode[models.WarehouseStats](t, w)
	assert.Equal(t, 8, stats.TotalUnits)
	assert.Equal(t, 80.0, stats.OccupancyPct)

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/items/%d", item.ID), reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 32, decode[models.InventoryItem](t, w).Quantity)

	w = do(t, srv, http.MethodPost, fmt.Sprintf("/warehouses/%d/items", main.ID), reg.Token, map[string]any{"sku": "TAPE", "name": "Tape"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/warehouses/%d/items?low_stock=true", main.ID), reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	low := decode[struct {
		Data []models.InventoryItem `json:"data"`
	}](t, w)
	require.Len(t, low.Data, 1, "empty item without a reorder level is low")
	assert.Equal(t, "TAPE", low.Data[0].SKU)
}

func TestStockImport(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Import Depot")

	w := do(t, srv, http.MethodPost, "/warehouses", reg.Token, map[string]any{"code": "imp", "name": "Imports"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wh := decode[models.Warehouse](t, w)

	rows := [][]string{{"SKU", "Name", "Qty"}, {"TAPE", "Tape", "6"}, {"WRAP", "Bubble wrap", "3"}}
	rec := uploadStock(t, srv, reg.Token, wh.ID, rows)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Applied      int `json:"applied"`
			CreatedItems int `json:"created_items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Applied)
	assert.Equal(t, 2, resp.Data.CreatedItems)
}

func TestStockImportIntoForeignWarehouse(t *testing.T) {
	srv := server(t)
	owner := register(t, srv, "Import Owner")
	other := register(t, srv, "Import Intruder")

	w := do(t, srv, http.MethodPost, "/warehouses", owner.Token, map[string]any{"code": "own", "name": "Own"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	wh := decode[models.Warehouse](t, w)

	rows := [][]string{{"SKU", "Qty"}, {"TAPE", "6"}}
	rec := uploadStock(t, srv, other.Token, wh.ID, rows)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = uploadStock(t, srv, owner.Token, 1<<40, rows)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	w = do(t, srv, http.MethodGet, fmt.Sprintf("/warehouses/%d/items", wh.ID), owner.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func uploadStock(t *testing.T, srv *internal.Server, token string, warehouseID int64, rows [][]string) *httptest.ResponseRecorder {
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
	var file bytes.Buffer
	require.NoError(t, f.Write(&file))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("warehouse_id", fmt.Sprint(warehouseID)))
	part, err := mw.CreateFormFile("file", "stock.xlsx")
	require.NoError(t, err)
	_, err = part.Write(file.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports/stock", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestDashboardAndAnalytics(t *testing.T) {
	srv := server(t)
	reg := register(t, srv, "Analytics Air")
	createBooking(t, reg.Token, "50")
	createBooking(t, reg.Token, "25")

	w := do(t, srv, http.MethodGet, "/dashboard", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dash := decode[models.Dashboard](t, w)
	assert.Equal(t, 2, dash.Totals.Bookings)
	assert.Equal(t, 2, dash.Totals.Pending)
	assert.Len(t, dash.RecentBookings, 2)
	assert.Equal(t, "trial", dash.Subscription.State)

	w = do(t, srv, http.MethodGet, "/analytics?granularity=week", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/reports/bookings?format=csv", reg.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}
