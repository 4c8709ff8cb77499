package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Rounding applied to values exposed to callers: monetary totals are rounded
// to the currency's minor unit, weighted unit costs keep four places so
// small-quantity lines don't lose cost resolution.
const (
	totalCostScale = 2
	unitCostScale  = 4
)

// lotShare is the locked read view of one open lot during consumption.
type lotShare struct {
	lotID     int
	remaining decimal.Decimal
	unitCost  decimal.Decimal
}

// ConsumptionEntry records the share one lot contributed to a withdrawal.
type ConsumptionEntry struct {
	LotID     int             `json:"lot_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// allocateLots walks lots oldest-first, taking min(remaining, still needed)
// from each until the requested quantity is covered. Per-lot costs keep full
// precision during accumulation; only the final totals are rounded, so many
// small lots cannot drift the recognized cost. Returns ErrInsufficientStock
// when the lots are exhausted first; the caller must then abort its
// transaction so no partial decrement survives.
func allocateLots(lots []lotShare, quantity decimal.Decimal) ([]ConsumptionEntry, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	needed := quantity
	var entries []ConsumptionEntry
	for _, lot := range lots {
		if needed.IsZero() {
			break
		}
		take := decimal.Min(lot.remaining, needed)
		entries = append(entries, ConsumptionEntry{
			LotID:     lot.lotID,
			Quantity:  take,
			UnitCost:  lot.unitCost,
			TotalCost: take.Mul(lot.unitCost),
		})
		needed = needed.Sub(take)
	}
	if !needed.IsZero() {
		return nil, ErrInsufficientStock
	}
	return entries, nil
}

// consumptionCost sums entry costs at full precision and derives the rounded
// figures exposed to callers.
func consumptionCost(entries []ConsumptionEntry, quantity decimal.Decimal) (unitCost, totalCost decimal.Decimal) {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.TotalCost)
	}
	return total.Div(quantity).Round(unitCostScale), total.Round(totalCostScale)
}

// consumeTx locks the product's open lots oldest-first, allocates the
// withdrawal across them, and decrements each touched lot's remaining_qty.
// It must run inside the caller's transaction: any error aborts the whole
// operation with no partial mutation.
func (l *LotLedger) consumeTx(ctx context.Context, tx pgx.Tx, productID int, quantity decimal.Decimal) ([]ConsumptionEntry, error) {
	lots, err := l.lockLotsOldestFirstTx(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	entries, err := allocateLots(lots, quantity)
	if err != nil {
		return nil, fmt.Errorf("consume %s of product %d: %w", quantity, productID, err)
	}

	for _, e := range entries {
		tag, err := tx.Exec(ctx,
			"UPDATE stock_lots SET remaining_qty = remaining_qty - $1 WHERE id = $2",
			e.Quantity, e.LotID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement lot %d: %w", e.LotID, err)
		}
		if tag.RowsAffected() != 1 {
			return nil, fmt.Errorf("lot %d vanished during consumption", e.LotID)
		}
	}
	return entries, nil
}

// recordConsumptionsTx persists the audit rows linking an OUT movement to the
// lots it drew from, preserving oldest-first order.
func (l *LotLedger) recordConsumptionsTx(ctx context.Context, tx pgx.Tx, movementID int, entries []ConsumptionEntry) error {
	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO lot_consumptions (movement_id, lot_id, quantity, unit_cost, total_cost)
			VALUES ($1, $2, $3, $4, $5)
		`, movementID, e.LotID, e.Quantity, e.UnitCost, e.TotalCost)
		if err != nil {
			return fmt.Errorf("failed to insert consumption for movement %d lot %d: %w", movementID, e.LotID, err)
		}
	}
	return nil
}

// reverseMovementConsumptionsTx restores remaining_qty on every lot the
// movement drew from and deletes the audit rows in the same transaction, so a
// reversal can never be replayed. Legacy movements have no audit rows and
// reverse to a no-op.
func (l *LotLedger) reverseMovementConsumptionsTx(ctx context.Context, tx pgx.Tx, movementID int) error {
	rows, err := tx.Query(ctx,
		"SELECT lot_id, quantity FROM lot_consumptions WHERE movement_id = $1",
		movementID,
	)
	if err != nil {
		return fmt.Errorf("failed to fetch consumptions for movement %d: %w", movementID, err)
	}

	type restore struct {
		lotID    int
		quantity decimal.Decimal
	}
	var restores []restore
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.lotID, &r.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan consumption row: %w", err)
		}
		restores = append(restores, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating consumption rows: %w", err)
	}

	for _, r := range restores {
		_, err := tx.Exec(ctx,
			"UPDATE stock_lots SET remaining_qty = remaining_qty + $1 WHERE id = $2",
			r.quantity, r.lotID,
		)
		if err != nil {
			return fmt.Errorf("failed to restore lot %d: %w", r.lotID, err)
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM lot_consumptions WHERE movement_id = $1", movementID); err != nil {
		return fmt.Errorf("failed to delete consumptions for movement %d: %w", movementID, err)
	}
	return nil
}

// ListConsumptions returns the audit rows of one movement, oldest lot first.
func (l *LotLedger) ListConsumptions(ctx context.Context, movementID int) ([]LotConsumption, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT lc.id, lc.movement_id, lc.lot_id, lc.quantity, lc.unit_cost, lc.total_cost
		FROM lot_consumptions lc
		JOIN stock_lots sl ON sl.id = lc.lot_id
		WHERE lc.movement_id = $1
		ORDER BY sl.created_at, sl.id
	`, movementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumptions for movement %d: %w", movementID, err)
	}
	defer rows.Close()

	var records []LotConsumption
	for rows.Next() {
		var c LotConsumption
		if err := rows.Scan(&c.ID, &c.MovementID, &c.LotID, &c.Quantity, &c.UnitCost, &c.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan consumption: %w", err)
		}
		records = append(records, c)
	}
	return records, nil
}
