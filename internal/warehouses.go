package internal

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"courier-console-api/internal/auth"
	"courier-console-api/internal/models"
	"courier-console-api/internal/stock"
)

const warehouseColumns = `id, org_id, code, name, city, address, capacity, manager, is_active, created_at, updated_at`

func scanWarehouse(row rowScanner, extra ...any) (models.Warehouse, error) {
	var wh models.Warehouse
	dest := []any{
		&wh.ID, &wh.OrgID, &wh.Code, &wh.Name, &wh.City, &wh.Address, &wh.Capacity, &wh.Manager, &wh.IsActive,
		&wh.CreatedAt, &wh.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return wh, err
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// listWarehouses handles GET /warehouses
func (s *Server) listWarehouses(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	var f filter
	f.add("org_id = $%[1]d", auth.OrgIDFromContext(r.Context()))
	if params.q != "" {
		f.add("(code ILIKE $%[1]d OR name ILIKE $%[1]d OR city ILIKE $%[1]d)", "%"+params.q+"%")
	}
	if v := strings.TrimSpace(r.URL.Query().Get("city")); v != "" {
		f.add("city ILIKE $%[1]d", v)
	}
	if v := r.URL.Query().Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "is_active must be true or false", "VALIDATION_ERROR")
			return
		}
		f.add("is_active = $%[1]d", active)
	}

	query := `SELECT ` + warehouseColumns + `, COUNT(*) OVER() FROM warehouses` + f.where() +
		buildOrderBy(params.sort, map[string]string{
			"id": "id", "code": "code", "name": "name", "city": "city", "capacity": "capacity", "created_at": "created_at",
		}) + params.limitClause()

	rows, err := s.db(r.Context()).QueryContext(r.Context(), query, f.args...)
	if err != nil {
		s.fail(w, r, err, "warehouses")
		return
	}
	defer rows.Close()

	var warehouses []models.Warehouse
	var total int
	for rows.Next() {
		wh, err := scanWarehouse(rows, &total)
		if err != nil {
			s.fail(w, r, err, "warehouses")
			return
		}
		warehouses = append(warehouses, wh)
	}
	if err := rows.Err(); err != nil {
		s.fail(w, r, err, "warehouses")
		return
	}
	sendListResponse(w, warehouses, total, params)
}

// createWarehouse handles POST /warehouses
func (s *Server) createWarehouse(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWarehouseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Code = normalizeCode(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "code and name are required", "VALIDATION_ERROR")
		return
	}
	capacity := 0
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			writeError(w, http.StatusBadRequest, "capacity must not be negative", "VALIDATION_ERROR")
			return
		}
		capacity = *req.Capacity
	}

	orgID := auth.OrgIDFromContext(r.Context())
	wh, err := scanWarehouse(s.db(r.Context()).QueryRowContext(r.Context(), `
		INSERT INTO warehouses (org_id, code, name, city, address, capacity, manager)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+warehouseColumns,
		orgID, req.Code, req.Name, req.City, req.Address, capacity, req.Manager))
	if err != nil {
		s.fail(w, r, err, "warehouse")
		return
	}
	s.invalidate(r.Context(), orgID)
	writeJSON(w, http.StatusCreated, wh)
}

// getWarehouse handles GET /warehouses/{id}
func (s *Server) getWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	wh, err := scanWarehouse(s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1 AND org_id = $2`,
		id, auth.OrgIDFromContext(r.Context())))
	if err != nil {
		s.fail(w, r, err, "warehouse")
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

// updateWarehouse handles PUT /warehouses/{id}. Capacity may not drop below
// the units already stored.
func (s *Server) updateWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateWarehouseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sets setList
	if req.Code != nil {
		code := normalizeCode(*req.Code)
		if code == "" {
			writeError(w, http.StatusBadRequest, "code must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("code", code)
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty", "VALIDATION_ERROR")
			return
		}
		sets.add("name", name)
	}
	if req.City != nil {
		sets.add("city", req.City)
	}
	if req.Address != nil {
		sets.add("address", req.Address)
	}
	if req.Manager != nil {
		sets.add("manager", req.Manager)
	}
	if req.IsActive != nil {
		sets.add("is_active", *req.IsActive)
	}
	if req.Capacity != nil {
		if *req.Capacity < 0 {
			writeError(w, http.StatusBadRequest, "capacity must not be negative", "VALIDATION_ERROR")
			return
		}
		sets.add("capacity", *req.Capacity)
	}
	if sets.empty() {
		writeError(w, http.StatusBadRequest, "No fields to update", "NO_FIELDS")
		return
	}

	ctx := r.Context()
	orgID := auth.OrgIDFromContext(ctx)
	var updated models.Warehouse
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var units int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE((SELECT SUM(quantity) FROM inventory_items WHERE warehouse_id = w.id), 0)
			FROM warehouses w WHERE w.id = $1 AND w.org_id = $2 FOR UPDATE`, id, orgID).Scan(&units)
		if err != nil {
			return err
		}
		if req.Capacity != nil && *req.Capacity > 0 && *req.Capacity < units {
			return stock.ErrCapacityExceeded
		}
		q, args := sets.update("warehouses", id, orgID)
		updated, err = scanWarehouse(tx.QueryRowContext(ctx, q+" RETURNING "+warehouseColumns, args...))
		return err
	})
	if err != nil {
		s.fail(w, r, err, "warehouse")
		return
	}
	s.invalidate(ctx, orgID)
	writeJSON(w, http.StatusOK, updated)
}

// deleteWarehouse handles DELETE /warehouses/{id}. Warehouses still holding
// items or ledger history are rejected by their foreign keys.
func (s *Server) deleteWarehouse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	orgID := auth.OrgIDFromContext(r.Context())
	res, err := s.db(r.Context()).ExecContext(r.Context(),
		`DELETE FROM warehouses WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		s.fail(w, r, err, "warehouse")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.fail(w, r, sql.ErrNoRows, "warehouse")
		return
	}
	s.invalidate(r.Context(), orgID)
	w.WriteHeader(http.StatusNoContent)
}

// warehouseStats builds the occupancy cards of the org's warehouses, or of
// one warehouse when only is set.
func warehouseStats(ctx context.Context, q querier, orgID int64, only *int64) ([]models.WarehouseStats, error) {
	var f filter
	f.add("w.org_id = $%[1]d", orgID)
	if only != nil {
		f.add("w.id = $%[1]d", *only)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT w.id, w.name, w.capacity, COALESCE(SUM(i.quantity), 0), COUNT(i.id)
		FROM warehouses w
		LEFT JOIN inventory_items i ON i.warehouse_id = w.id`+f.where()+`
		GROUP BY w.id, w.name, w.capacity
		ORDER BY w.name, w.id`, f.args...)
	if err != nil {
		return nil, err
	}
	stats := []models.WarehouseStats{}
	index := make(map[int64]int)
	for rows.Next() {
		var st models.WarehouseStats
		if err := rows.Scan(&st.WarehouseID, &st.Name, &st.Capacity, &st.TotalUnits, &st.ItemCount); err != nil {
			rows.Close()
			return nil, err
		}
		st.OccupancyPct = stock.Occupancy(st.TotalUnits, st.Capacity)
		st.LowStockItems = []models.InventoryItem{}
		index[st.WarehouseID] = len(stats)
		stats = append(stats, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return stats, nil
	}

	f = filter{}
	f.add("org_id = $%[1]d", orgID)
	if only != nil {
		f.add("warehouse_id = $%[1]d", *only)
	}
	low, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory_items`+f.where()+
		` AND quantity <= reorder_level ORDER BY quantity, sku`, f.args...)
	if err != nil {
		return nil, err
	}
	defer low.Close()
	for low.Next() {
		it, err := scanItem(low)
		if err != nil {
			return nil, err
		}
		i, ok := index[it.WarehouseID]
		if !ok || !stock.IsLowStock(it.Quantity, it.ReorderLevel) {
			continue
		}
		stats[i].LowStockItems = append(stats[i].LowStockItems, it)
	}
	return stats, low.Err()
}

// getWarehouseStats handles GET /warehouses/{id}/stats
func (s *Server) getWarehouseStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	stats, err := warehouseStats(r.Context(), s.db(r.Context()), auth.OrgIDFromContext(r.Context()), &id)
	if err == nil && len(stats) == 0 {
		err = sql.ErrNoRows
	}
	if err != nil {
		s.fail(w, r, err, "warehouse")
		return
	}
	writeJSON(w, http.StatusOK, stats[0])
}

// requireWarehouse answers 404 unless the warehouse belongs to the caller's org.
func (s *Server) requireWarehouse(w http.ResponseWriter, r *http.Request, id int64) bool {
	var exists bool
	err := s.db(r.Context()).QueryRowContext(r.Context(),
		`SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1 AND org_id = $2)`,
		id, auth.OrgIDFromContext(r.Context())).Scan(&exists)
	if err == nil && !exists {
		err = stock.ErrWarehouseNotFound
	}
	if err != nil {
		if errors.Is(err, stock.ErrWarehouseNotFound) {
			writeError(w, http.StatusNotFound, "warehouse not found", "NOT_FOUND")
			return false
		}
		s.fail(w, r, err, "warehouse")
		return false
	}
	return true
}
