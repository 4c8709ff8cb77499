package core

import (
	"context"
	"fmt"

	"petstore-erp/internal/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MigrationService backfills FIFO costs onto sale orders whose withdrawals
// predate the lot ledger. It never touches sale prices or order totals; only
// the recognized cost fields and the underlying movements change.
type MigrationService interface {
	// MigrateLegacyOrders processes up to batchSize eligible orders, one
	// transaction per order so a failure rolls back only that order and the
	// batch keeps going. Returns how many orders were migrated and how many
	// were skipped. Safe to re-run until it reports zero migrated.
	MigrateLegacyOrders(ctx context.Context, batchSize int) (migrated, skipped int, err error)
}

type migrationService struct {
	pool      *pgxpool.Pool
	movements MovementService
	flags     cache.FlagCache
	log       *logrus.Logger
}

func NewMigrationService(pool *pgxpool.Pool, movements MovementService, flags cache.FlagCache, log *logrus.Logger) MigrationService {
	if flags == nil {
		flags = cache.NoopFlagCache{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &migrationService{pool: pool, movements: movements, flags: flags, log: log}
}

func (s *migrationService) MigrateLegacyOrders(ctx context.Context, batchSize int) (int, int, error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	orderIDs, err := s.findEligibleOrders(ctx, batchSize)
	if err != nil {
		return 0, 0, err
	}

	migrated, skipped := 0, 0
	for _, orderID := range orderIDs {
		if err := s.migrateOrder(ctx, orderID); err != nil {
			skipped++
			s.log.WithFields(logrus.Fields{
				"order_id": orderID,
				"error":    err.Error(),
			}).Warn("fifo backfill: skipping order")
			continue
		}
		migrated++
		s.log.WithField("order_id", orderID).Info("fifo backfill: order migrated")
	}
	return migrated, skipped, nil
}

// findEligibleOrders selects sale orders with at least one legacy OUT
// movement (no recognized cost) whose product now has open lots covering the
// original quantity sold.
func (s *migrationService) findEligibleOrders(ctx context.Context, limit int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT o.id
		FROM orders o
		JOIN stock_movements m
		  ON m.document = 'SO-' || o.id AND m.movement_type = 'OUT'
		WHERE o.order_type = 'SALE'
		  AND (m.recognized_total_cost IS NULL OR m.recognized_total_cost = 0)
		  AND m.quantity <= (
		      SELECT COALESCE(SUM(remaining_qty), 0) FROM stock_lots WHERE product_id = m.product_id
		  )
		ORDER BY o.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy-eligible orders: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating eligible orders: %w", err)
	}
	return ids, nil
}

// migrateOrder replaces every legacy OUT movement of one order with a
// FIFO-costed one, inside its own transaction.
func (s *migrationService) migrateOrder(ctx context.Context, orderID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize against concurrent edits of the same order.
	var orderType OrderType
	if err := tx.QueryRow(ctx,
		"SELECT order_type FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&orderType); err != nil {
		return fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}
	if orderType != OrderSale {
		return fmt.Errorf("order %d is not a sale order", orderID)
	}

	document := OrderDocument(OrderSale, orderID)
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, quantity
		FROM stock_movements
		WHERE document = $1 AND movement_type = 'OUT'
		  AND (recognized_total_cost IS NULL OR recognized_total_cost = 0)
		ORDER BY id
		FOR UPDATE
	`, document)
	if err != nil {
		return fmt.Errorf("failed to query legacy movements: %w", err)
	}

	type legacyMovement struct {
		id        int
		productID int
		quantity  decimal.Decimal
	}
	var legacy []legacyMovement
	for rows.Next() {
		var m legacyMovement
		if err := rows.Scan(&m.id, &m.productID, &m.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan legacy movement: %w", err)
		}
		legacy = append(legacy, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating legacy movements: %w", err)
	}
	if len(legacy) == 0 {
		// A previous run (or a concurrent edit) already handled this order.
		return fmt.Errorf("order %d has no legacy movements left", orderID)
	}

	for _, m := range legacy {
		// Legacy withdrawals never held lots, so removal restores nothing.
		if err := s.movements.RemoveExitTx(ctx, tx, m.id); err != nil {
			return err
		}

		// Re-run the selector with the original quantity. The sale keeps its
		// price; only the recognized cost changes.
		_, costed, err := s.movements.RecordExitTx(ctx, tx, ExitInput{
			ProductID: m.productID,
			Quantity:  m.quantity,
			Document:  document,
			Notes:     fmt.Sprintf("fifo backfill for order %d", orderID),
		})
		if err != nil {
			return fmt.Errorf("product %d: %w", m.productID, err)
		}

		fifo, ok := costed.(*FifoCosted)
		if !ok {
			// Lots vanished between eligibility check and this transaction.
			return fmt.Errorf("product %d no longer has lots covering %s", m.productID, m.quantity)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE order_items
			SET recognized_unit_cost = $1, recognized_total_cost = $2
			WHERE order_id = $3 AND product_id = $4
		`, fifo.UnitCost, fifo.TotalCost, orderID, m.productID); err != nil {
			return fmt.Errorf("failed to update item costs for product %d: %w", m.productID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration of order %d: %w", orderID, err)
	}

	if err := s.flags.Delete(ctx, fifoAppliedKey(orderID)); err != nil {
		s.log.WithField("order_id", orderID).WithError(err).Warn("fifo backfill: flag cache invalidation failed")
	}
	return nil
}
