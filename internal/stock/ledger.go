package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"courier-console-api/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Ledger applies stock operations against PostgreSQL. Each operation runs
// in one transaction that locks the involved warehouse rows (in id order)
// and then the item rows, so concurrent operations on a warehouse queue up
// instead of racing on quantity or capacity.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type lockedWarehouse struct {
	capacity int
	active   bool
}

type lockedItem struct {
	quantity     int
	sku          string
	name         string
	category     *string
	unit         string
	reorderLevel int
}

const operationColumns = `id, org_id, warehouse_id, item_id, type, quantity, quantity_after,
	target_warehouse_id, target_item_id, reference, notes, performed_by, idempotency_key, created_at`

func scanOperation(row pgx.Row) (models.StockOperation, error) {
	var op models.StockOperation
	err := row.Scan(&op.ID, &op.OrgID, &op.WarehouseID, &op.ItemID, &op.Type, &op.Quantity, &op.QuantityAfter,
		&op.TargetWarehouseID, &op.TargetItemID, &op.Reference, &op.Notes, &op.PerformedBy, &op.IdempotencyKey, &op.CreatedAt)
	return op, err
}

// Execute applies req for orgID. When req carries an idempotency key that
// was already used for the same type, warehouse and item, the earlier
// operation is returned with replayed=true and nothing is applied. A key
// reused for a different operation fails with ErrIdempotencyConflict.
func (l *Ledger) Execute(ctx context.Context, orgID int64, performedBy *int64, req Request) (op models.StockOperation, replayed bool, err error) {
	if err := req.Validate(); err != nil {
		return op, false, err
	}

	tx, err := l.beginOrgTx(ctx, orgID)
	if err != nil {
		return op, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if req.IdempotencyKey != nil {
		prior, found, err := findByKey(ctx, tx, orgID, *req.IdempotencyKey)
		if err != nil {
			return op, false, err
		}
		if found {
			return prior, true, req.checkReplay(prior)
		}
	}

	op, err = apply(ctx, tx, orgID, performedBy, req)
	if err != nil {
		if isUniqueViolation(err) && req.IdempotencyKey != nil {
			// A concurrent request with the same key committed first.
			tx.Rollback(ctx) //nolint:errcheck
			if prior, found, ferr := l.lookupKey(ctx, orgID, *req.IdempotencyKey); ferr == nil && found {
				return prior, true, req.checkReplay(prior)
			}
		}
		return op, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) && req.IdempotencyKey != nil {
			if prior, found, ferr := l.lookupKey(ctx, orgID, *req.IdempotencyKey); ferr == nil && found {
				return prior, true, req.checkReplay(prior)
			}
		}
		return op, false, fmt.Errorf("commit stock operation: %w", err)
	}
	return op, false, nil
}

// BatchRow is one line of a bulk stock load identified by SKU rather than item id.
type BatchRow struct {
	Line      int
	SKU       string
	Name      string
	Category  *string
	Unit      string
	Quantity  int
	Reference *string
}

// BatchRowError describes a rejected line.
type BatchRowError struct {
	Line    int    `json:"line"`
	SKU     string `json:"sku,omitempty"`
	Message string `json:"message"`
}

// BatchResult summarises a bulk load.
type BatchResult struct {
	Applied      int             `json:"applied"`
	CreatedItems int             `json:"created_items"`
	Failed       int             `json:"failed"`
	Errors       []BatchRowError `json:"errors,omitempty"`
	DryRun       bool            `json:"dry_run"`
}

// ErrTooManyErrors aborts a batch once more than maxErrors rows failed.
var ErrTooManyErrors = errors.New("too many row errors")

// ApplyBatch loads rows into warehouseID as inbound operations, or as
// absolute adjustments when setCounts is true. Items missing from the
// warehouse are created by SKU. Each row runs in its own savepoint so a bad
// row does not undo the others; a dry run rolls everything back at the end.
// maxErrors is the number of row failures tolerated: 0 aborts on the first
// one and a negative value never aborts.
func (l *Ledger) ApplyBatch(ctx context.Context, orgID int64, performedBy *int64, warehouseID int64, rows []BatchRow, setCounts, dryRun bool, maxErrors int) (BatchResult, error) {
	res := BatchResult{DryRun: dryRun}

	tx, err := l.beginOrgTx(ctx, orgID)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1 AND org_id = $2)`,
		warehouseID, orgID).Scan(&exists); err != nil {
		return res, fmt.Errorf("load warehouse: %w", err)
	}
	if !exists {
		return res, ErrWarehouseNotFound
	}

	opType := TypeInbound
	if setCounts {
		opType = TypeAdjustment
	}

	for _, row := range rows {
		created, err := applyBatchRow(ctx, tx, orgID, performedBy, warehouseID, opType, row)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BatchRowError{Line: row.Line, SKU: row.SKU, Message: err.Error()})
			if overBudget(res.Failed, maxErrors) {
				return res, fmt.Errorf("%w (%d)", ErrTooManyErrors, res.Failed)
			}
			continue
		}
		res.Applied++
		if created {
			res.CreatedItems++
		}
	}

	if dryRun {
		return res, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit batch: %w", err)
	}
	return res, nil
}

func applyBatchRow(ctx context.Context, tx pgx.Tx, orgID int64, performedBy *int64, warehouseID int64, opType string, row BatchRow) (bool, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer sp.Rollback(ctx) //nolint:errcheck

	var itemID int64
	var created bool
	err = sp.QueryRow(ctx, `
		INSERT INTO inventory_items (org_id, warehouse_id, sku, name, category, unit, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (warehouse_id, sku) DO UPDATE SET updated_at = now()
		RETURNING id, (xmax = 0)`,
		orgID, warehouseID, row.SKU, row.Name, row.Category, row.Unit).Scan(&itemID, &created)
	if err != nil {
		return false, fmt.Errorf("ensure item: %w", err)
	}

	if _, err := apply(ctx, sp, orgID, performedBy, Request{
		Type:        opType,
		WarehouseID: warehouseID,
		ItemID:      itemID,
		Quantity:    row.Quantity,
		Reference:   row.Reference,
	}); err != nil {
		return false, err
	}
	return created, sp.Commit(ctx)
}

func (l *Ledger) beginOrgTx(ctx context.Context, orgID int64) (pgx.Tx, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin stock tx: %w", err)
	}
	// Scope row-level security to the caller's organization for this transaction.
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_org_id', $1, true)", strconv.FormatInt(orgID, 10)); err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return nil, fmt.Errorf("set org context: %w", err)
	}
	return tx, nil
}

func apply(ctx context.Context, tx pgx.Tx, orgID int64, performedBy *int64, req Request) (models.StockOperation, error) {
	var op models.StockOperation
	if err := req.Validate(); err != nil {
		return op, err
	}

	ids := []int64{req.WarehouseID}
	if req.Type == TypeTransfer {
		ids = append(ids, *req.TargetWarehouseID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	warehouses := make(map[int64]lockedWarehouse, len(ids))
	for _, id := range ids {
		var w lockedWarehouse
		err := tx.QueryRow(ctx,
			`SELECT capacity, is_active FROM warehouses WHERE id = $1 AND org_id = $2 FOR UPDATE`,
			id, orgID).Scan(&w.capacity, &w.active)
		if errors.Is(err, pgx.ErrNoRows) {
			return op, fmt.Errorf("%w: %d", ErrWarehouseNotFound, id)
		}
		if err != nil {
			return op, fmt.Errorf("lock warehouse %d: %w", id, err)
		}
		if !w.active {
			return op, fmt.Errorf("%w: %d", ErrWarehouseInactive, id)
		}
		warehouses[id] = w
	}

	var item lockedItem
	err := tx.QueryRow(ctx, `
		SELECT quantity, sku, name, category, unit, reorder_level
		FROM inventory_items WHERE id = $1 AND warehouse_id = $2 AND org_id = $3 FOR UPDATE`,
		req.ItemID, req.WarehouseID, orgID).Scan(&item.quantity, &item.sku, &item.name, &item.category, &item.unit, &item.reorderLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return op, ErrItemNotFound
	}
	if err != nil {
		return op, fmt.Errorf("lock item: %w", err)
	}

	after, err := Apply(req.Type, item.quantity, req.Quantity)
	if err != nil {
		return op, err
	}

	if delta := after - item.quantity; delta > 0 {
		if err := checkWarehouseCapacity(ctx, tx, req.WarehouseID, warehouses[req.WarehouseID].capacity, delta); err != nil {
			return op, err
		}
	}

	var targetItemID *int64
	if req.Type == TypeTransfer {
		target := *req.TargetWarehouseID
		if err := checkWarehouseCapacity(ctx, tx, target, warehouses[target].capacity, req.Quantity); err != nil {
			return op, err
		}
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO inventory_items (org_id, warehouse_id, sku, name, category, unit, reorder_level, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
			ON CONFLICT (warehouse_id, sku) DO UPDATE SET updated_at = now()
			RETURNING id`,
			orgID, target, item.sku, item.name, item.category, item.unit, item.reorderLevel).Scan(&id)
		if err != nil {
			return op, fmt.Errorf("ensure target item: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE inventory_items SET quantity = quantity + $1, updated_at = now() WHERE id = $2`,
			req.Quantity, id); err != nil {
			return op, fmt.Errorf("credit target item: %w", err)
		}
		targetItemID = &id
	}

	if _, err := tx.Exec(ctx,
		`UPDATE inventory_items SET quantity = $1, updated_at = now() WHERE id = $2`,
		after, req.ItemID); err != nil {
		return op, fmt.Errorf("update item: %w", err)
	}

	return scanOperation(tx.QueryRow(ctx, `
		INSERT INTO stock_operations (org_id, warehouse_id, item_id, type, quantity, quantity_after,
			target_warehouse_id, target_item_id, reference, notes, performed_by, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+operationColumns,
		orgID, req.WarehouseID, req.ItemID, req.Type, req.Quantity, after,
		req.TargetWarehouseID, targetItemID, req.Reference, req.Notes, performedBy, req.IdempotencyKey))
}

func checkWarehouseCapacity(ctx context.Context, tx pgx.Tx, warehouseID int64, capacity, incoming int) error {
	if capacity <= 0 {
		return nil
	}
	var occupied int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM inventory_items WHERE warehouse_id = $1`,
		warehouseID).Scan(&occupied); err != nil {
		return fmt.Errorf("sum warehouse stock: %w", err)
	}
	return CheckCapacity(capacity, occupied, incoming)
}

// lookupKey reads a committed operation by key in its own org-scoped transaction.
func (l *Ledger) lookupKey(ctx context.Context, orgID int64, key string) (models.StockOperation, bool, error) {
	tx, err := l.beginOrgTx(ctx, orgID)
	if err != nil {
		return models.StockOperation{}, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read only
	return findByKey(ctx, tx, orgID, key)
}

func findByKey(ctx context.Context, q rowQuerier, orgID int64, key string) (models.StockOperation, bool, error) {
	op, err := scanOperation(q.QueryRow(ctx,
		`SELECT `+operationColumns+` FROM stock_operations WHERE org_id = $1 AND idempotency_key = $2`,
		orgID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return op, false, nil
	}
	if err != nil {
		return op, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return op, true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
