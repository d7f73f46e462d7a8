package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"courier-console-api/internal/analytics"
	"courier-console-api/internal/auth"
	"courier-console-api/internal/models"
	"courier-console-api/internal/stock"
)

const (
	defaultUnit            = "pcs"
	maxIdempotencyKeyLen   = 128
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotentReplayHeader = "Idempotent-Replayed"
)

const itemColumns = `id, org_id, warehouse_id, sku, name, category, quantity, unit, reorder_level, booking_id,
	created_at, updated_at`

func scanItem(row rowScanner, extra ...any) (models.InventoryItem, error) {
	var it models.InventoryItem
	dest := []any{
		&it.ID, &it.OrgID, &it.WarehouseID, &it.SKU, &it.Name, &it.Category, &it.Quantity, &it.Unit,
		&it.ReorderLevel, &it.BookingID, &it.CreatedAt, &it.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return it, err
}

var errForeignBooking = errors.New("booking belongs to another organization")

func checkOrgBooking(ctx context.Context, q querier, orgID, bookingID int64) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1 AND org_id = $2)`, bookingID, orgID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errForeignBooking
	}
	return nil
}

// listItems handles GET /warehouses/{id}/items
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.requireWarehouse(w, r, warehouseID) {
		return
	}
	params := parseListParams(r)

	var f filter
	f.add("org_id = $%[1]d", auth.OrgIDFromContext(r.Context()))
	f.add("warehouse_id = $%[1]d", warehouseID)
	if params.q != "" {
		f.add("(sku ILIKE $%[1]d OR name ILIKE $%[1]d)", "%"+params.q+"%")
	}
	if v := strings.TrimSpace(r.URL.Query().Get("category")); v != "" {
		f.add("category = $%[1]d", v)
	}
	if v := r.URL.Query().Get("low_stock"); v != "" {
		low, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "low_stock must be true or false", "VALIDATION_ERROR")
			return
		}
		if low {
			f.raw("quantity <= reorder_level")
		}
	}

	query := `SELECT ` + itemColumns + `, COUNT(*) OVER() FROM inventory_items` + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "id", "sku": "sku", "name": "name", "quantity": "quantity", "updated_at": "updated_at",
		}) + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), query, f.args...)
	if err != nil {
		s.fail(w, r, err, "items")
		return
	}
	defer rows.Close()

	var items []models.InventoryItem
	var total int
	for rows.Next() {
		it, err := scanItem(rows, &total)
		if err != nil {
			s.fail(w, r, err, "items")
			return
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "items")
		return
	}
	sendListResponse(w, items, total, params)
}

// createItem registers a stock line in a warehouse with zero quantity.
// Stock arrives through operations.
func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.CreateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "sku and name are required", "VALIDATION_ERROR")
		return
	}
	unit := defaultUnit
	if req.Unit != nil && strings.TrimSpace(*req.Unit) != "" {
		unit = strings.TrimSpace(*req.Unit)
	}
	reorder := 0
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			writeError(w, http.StatusBadRequest, "reorder_level must not be negative", "VALIDATION_ERROR")
			return
		}
		reorder = *req.ReorderLevel
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	q := s.db(ctx)
	if req.BookingID != nil {
		if err := checkOrgBooking(ctx, q, orgID, *req.BookingID); err != nil {
			s.failBookingLink(w, r, err)
			return
		}
	}

	it, err := scanItem(q.QueryRowContext(ctx, `
		INSERT INTO inventory_items (org_id, warehouse_id, sku, name, category, unit, reorder_level, booking_id)
		SELECT w.org_id, w.id, $3, $4, $5, $6, $7, $8
		FROM warehouses w WHERE w.id = $1 AND w.org_id = $2
		RETURNING `+itemColumns,
		warehouseID, orgID, req.SKU, req.Name, req.Category, unit, reorder, req.BookingID))
	if errors.Is(err, sql.ErrNoRows) {
		err = stock.ErrWarehouseNotFound
	}
	if err != nil {
		s.fail(w, r, err, "item")
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) failBookingLink(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errForeignBooking) {
		writeError(w, http.StatusBadRequest, "booking_id does not name a booking of this organization", "INVALID_BOOKING")
		return
	}
	s.fail(w, r, err, "booking")
}

// getItem handles GET /items/{id}
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	it, err := scanItem(s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 AND org_id = $2`,
		id, auth.OrgIDFromContext(r.Context())))
	if err != nil {
		s.fail(w, r, err, "item")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// updateItem edits item details; quantity is not writable here
func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sets setList
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("name", name)
	}
	if req.Category != nil {
		sets.add("category", req.Category)
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			writeError(w, http.StatusBadRequest, "unit must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("unit", unit)
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			writeError(w, http.StatusBadRequest, "reorder_level must not be negative", "VALIDATION_ERROR")
			return
		}
		sets.add("reorder_level", *req.ReorderLevel)
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	if req.BookingID != nil {
		if err := checkOrgBooking(ctx, s.db(ctx), orgID, *req.BookingID); err != nil {
			s.failBookingLink(w, r, err)
			return
		}
		sets.add("booking_id", *req.BookingID)
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	q, args := sets.update("inventory_items", id, orgID)
	it, err := scanItem(s.db(ctx).QueryRowContext(ctx, q+" RETURNING "+itemColumns, args...))
	if err != nil {
		s.fail(w, r, err, "item")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// deleteItem handles DELETE /items/{id}. Items with ledger history are
// protected by their foreign keys.
func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	orgID := auth.OrgIDFromContext(r.Context())
	var quantity int
	err := s.db(r.Context()).QueryRowContext(r.Context(),
		`DELETE FROM inventory_items WHERE id = $1 AND org_id = $2 RETURNING quantity`, id, orgID).Scan(&quantity)
	if err != nil {
		s.fail(w, r, err, "item")
		return
	}
	if quantity > 0 {
		s.invalidate(r.Context(), orgID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// createOperation applies a stock operation through the ledger. A repeated
// Idempotency-Key returns the original operation with 200.
func (s *Server) createOperation(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body models.StockOperationRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	req := stock.Request{
		Type:              strings.TrimSpace(body.Type),
		WarehouseID:       warehouseID,
		ItemID:            body.ItemID,
		Quantity:          body.Quantity,
		TargetWarehouseID: body.TargetWarehouseID,
		Reference:         body.Reference,
		Notes:             body.Notes,
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)); key != "" {
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "Idempotency-Key is too long", "VALIDATION_ERROR")
			return
		}
		req.IdempotencyKey = &key
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	userID := auth.UserIDFromContext(ctx)
	op, replayed, err := s.Ledger.Execute(ctx, orgID, &userID, req)
	if err != nil {
		s.fail(w, r, err, "stock operation")
		return
	}
	if replayed {
		w.Header().Set(idempotentReplayHeader, "true")
		writeJSON(w, http.StatusOK, op)
		return
	}

	s.Metrics.StockOperation(op.Type)
	s.invalidate(ctx, orgID)
	writeJSON(w, http.StatusCreated, op)
}

const operationColumns = `id, org_id, warehouse_id, item_id, type, quantity, quantity_after,
	target_warehouse_id, target_item_id, reference, notes, performed_by, idempotency_key, created_at`

// listOperations returns the ledger history touching a warehouse, as
// source or as transfer target.
func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if !s.requireWarehouse(w, r, warehouseID) {
		return
	}
	params := parseListParams(r)
	query := r.URL.Query()

	var f filter
	f.add("org_id = $%[1]d", auth.OrgIDFromContext(r.Context()))
	f.add("(warehouse_id = $%[1]d OR target_warehouse_id = $%[1]d)", warehouseID)
	if v := strings.TrimSpace(query.Get("type")); v != "" {
		if !stock.ValidType(v) {
			s.fail(w, r, stock.ErrUnknownType, "filter")
			return
		}
		f.add("type = $%[1]d", v)
	}
	if v := query.Get("item_id"); v != "" {
		itemID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || itemID <= 0 {
			writeError(w, http.StatusBadRequest, "item_id must be a positive integer", "VALIDATION_ERROR")
			return
		}
		f.add("(item_id = $%[1]d OR target_item_id = $%[1]d)", itemID)
	}
	if v := query.Get("from"); v != "" {
		t, err := analytics.ParseBound(v, false)
		if err != nil {
			s.fail(w, r, err, "filter")
			return
		}
		f.add("created_at >= $%[1]d", t)
	}
	if v := query.Get("to"); v != "" {
		t, err := analytics.ParseBound(v, true)
		if err != nil {
			s.fail(w, r, err, "filter")
			return
		}
		f.add("created_at < $%[1]d", t)
	}

	sqlStr := `SELECT ` + operationColumns + `, COUNT(*) OVER() FROM stock_operations` + f.where() +
		" ORDER BY created_at DESC, id DESC" + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), sqlStr, f.args...)
	if err != nil {
		s.fail(w, r, err, "stock operations")
		return
	}
	defer rows.Close()

	var ops []models.StockOperation
	var total int
	for rows.Next() {
		var op models.StockOperation
		if err := rows.Scan(&op.ID, &op.OrgID, &op.WarehouseID, &op.ItemID, &op.Type, &op.Quantity, &op.QuantityAfter,
			&op.TargetWarehouseID, &op.TargetItemID, &op.Reference, &op.Notes, &op.PerformedBy, &op.IdempotencyKey,
			&op.CreatedAt, &total); err != nil {
			s.fail(w, r, err, "stock operations")
			return
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "stock operations")
		return
	}
	sendListResponse(w, ops, total, params)
}
