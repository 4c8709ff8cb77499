package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LotLedger owns the set of inventory lots per product. It is the only
// component that reads or mutates stock_lots; consumption and reversal go
// through its Tx-scoped methods so that lot decrements always happen under
// row locks inside the caller's transaction.
type LotLedger struct {
	pool *pgxpool.Pool
}

func NewLotLedger(pool *pgxpool.Pool) *LotLedger {
	return &LotLedger{pool: pool}
}

// CreateLotParams describes a new lot. MovementID, when non-nil, links the
// lot to the IN movement that created it.
type CreateLotParams struct {
	ProductID  int
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	TotalCost  decimal.Decimal
	Origin     LotOrigin
	MovementID *int
	Document   string
}

// CreateLotTx inserts a lot with remaining_qty = initial_qty within the
// caller's transaction.
func (l *LotLedger) CreateLotTx(ctx context.Context, tx pgx.Tx, p CreateLotParams) (*StockLot, error) {
	if !p.Quantity.IsPositive() {
		return nil, fmt.Errorf("create lot for product %d: %w", p.ProductID, ErrInvalidQuantity)
	}

	totalCost := p.TotalCost
	if totalCost.IsZero() {
		totalCost = p.Quantity.Mul(p.UnitCost)
	}

	var lot StockLot
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_lots (product_id, initial_qty, remaining_qty, unit_cost, total_cost, origin, movement_id, document)
		VALUES ($1, $2, $2, $3, $4, $5, $6, $7)
		RETURNING id, product_id, initial_qty, remaining_qty, unit_cost, total_cost, origin, movement_id, document, created_at
	`, p.ProductID, p.Quantity, p.UnitCost, totalCost, p.Origin, p.MovementID, p.Document).Scan(
		&lot.ID, &lot.ProductID, &lot.InitialQty, &lot.RemainingQty,
		&lot.UnitCost, &lot.TotalCost, &lot.Origin, &lot.MovementID, &lot.Document, &lot.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert lot for product %d: %w", p.ProductID, err)
	}
	return &lot, nil
}

// AvailableQuantity returns the sum of remaining_qty across all lots of the
// product. Zero means no lot was ever created (or all lots were depleted);
// the costing policy distinguishes the two via lot existence.
func (l *LotLedger) AvailableQuantity(ctx context.Context, productID int) (decimal.Decimal, error) {
	return availableQuantityQ(ctx, l.pool, productID)
}

func (l *LotLedger) availableQuantityTx(ctx context.Context, tx pgx.Tx, productID int) (decimal.Decimal, error) {
	return availableQuantityQ(ctx, tx, productID)
}

func availableQuantityQ(ctx context.Context, q pgxQuerier, productID int) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT COALESCE(SUM(remaining_qty), 0) FROM stock_lots WHERE product_id = $1",
		productID,
	).Scan(&available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum lot availability for product %d: %w", productID, err)
	}
	return available, nil
}

// hasLotsTx reports whether any lot (even fully depleted) exists for the
// product. Products with no lots at all are pre-FIFO inventory and are costed
// by the legacy fallback.
func (l *LotLedger) hasLotsTx(ctx context.Context, tx pgx.Tx, productID int) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM stock_lots WHERE product_id = $1)",
		productID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check lot existence for product %d: %w", productID, err)
	}
	return exists, nil
}

// lockLotsOldestFirstTx reads the product's open lots under FOR UPDATE so two
// concurrent consumptions serialize on the lot rows instead of racing on a
// stale remaining_qty. FIFO order is a total order: created_at, ties broken by
// id ascending (lots created in one transaction share a timestamp).
func (l *LotLedger) lockLotsOldestFirstTx(ctx context.Context, tx pgx.Tx, productID int) ([]lotShare, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, remaining_qty, unit_cost
		FROM stock_lots
		WHERE product_id = $1 AND remaining_qty > 0
		ORDER BY created_at, id
		FOR UPDATE
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock lots for product %d: %w", productID, err)
	}
	defer rows.Close()

	var lots []lotShare
	for rows.Next() {
		var ls lotShare
		if err := rows.Scan(&ls.lotID, &ls.remaining, &ls.unitCost); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

// ListLots returns every lot of a product, oldest first, including depleted
// historical lots.
func (l *LotLedger) ListLots(ctx context.Context, productID int) ([]StockLot, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, product_id, initial_qty, remaining_qty, unit_cost, total_cost, origin, movement_id, document, created_at
		FROM stock_lots
		WHERE product_id = $1
		ORDER BY created_at, id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots for product %d: %w", productID, err)
	}
	defer rows.Close()

	var lots []StockLot
	for rows.Next() {
		var lot StockLot
		if err := rows.Scan(
			&lot.ID, &lot.ProductID, &lot.InitialQty, &lot.RemainingQty,
			&lot.UnitCost, &lot.TotalCost, &lot.Origin, &lot.MovementID, &lot.Document, &lot.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
