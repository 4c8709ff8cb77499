package core_test

import (
	"context"
	"testing"

	"petstore-erp/internal/cache"
	"petstore-erp/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// seedLegacyOrder creates a pre-ledger sale order: an order row, one item
// without recognized cost, and an OUT movement tagged to the order that also
// carries no recognized cost.
func seedLegacyOrder(t *testing.T, ctx context.Context, pool *pgxpool.Pool, productID int, qty, unitPrice float64) int {
	t.Helper()

	var orderID int
	err := pool.QueryRow(ctx, `
		INSERT INTO orders (order_type, partner_id, total, notes)
		VALUES ('SALE', 1, $1, 'pre-ledger sale')
		RETURNING id
	`, qty*unitPrice).Scan(&orderID)
	if err != nil {
		t.Fatalf("Failed to seed legacy order: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, productID, qty, unitPrice, qty*unitPrice)
	if err != nil {
		t.Fatalf("Failed to seed legacy order item: %v", err)
	}

	seedLegacyHistory(t, ctx, pool, productID, core.OrderDocument(core.OrderSale, orderID), core.MovementOut, qty, 0)
	return orderID
}

func newMigrationService(pool *pgxpool.Pool, flags cache.FlagCache) (core.MigrationService, core.OrderService) {
	_, movements := newStockServices(pool)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return core.NewMigrationService(pool, movements, flags, log),
		core.NewOrderService(pool, movements, flags)
}

func TestMigrateLegacyOrders_Backfill(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	ledger, movements := newStockServices(pool)
	flags := cache.NewMemoryFlagCache()
	migration, orders := newMigrationService(pool, flags)

	orderID := seedLegacyOrder(t, ctx, pool, 2, 6, 20.00)

	// Inventory later lands on the lot ledger with enough to cover the sale.
	seedLot(t, ctx, movements, 2, 10, 9.00)

	migrated, skipped, err := migration.MigrateLegacyOrders(ctx, 0)
	if err != nil {
		t.Fatalf("MigrateLegacyOrders failed: %v", err)
	}
	if migrated != 1 || skipped != 0 {
		t.Fatalf("Expected 1 migrated / 0 skipped, got %d / %d", migrated, skipped)
	}

	// The OUT movement now carries a FIFO cost: 6 × 9.00.
	all, err := movements.ListMovements(ctx, 2)
	if err != nil {
		t.Fatalf("ListMovements failed: %v", err)
	}
	var out *core.StockMovement
	for i := range all {
		if all[i].Type == core.MovementOut {
			out = &all[i]
		}
	}
	if out == nil {
		t.Fatal("Expected an OUT movement after migration")
	}
	if out.RecognizedTotalCost == nil || !out.RecognizedTotalCost.Equal(decimal.NewFromFloat(54.00)) {
		t.Errorf("Expected recognized total cost 54.00, got %v", out.RecognizedTotalCost)
	}

	consumptions, err := ledger.ListConsumptions(ctx, out.ID)
	if err != nil {
		t.Fatalf("ListConsumptions failed: %v", err)
	}
	if len(consumptions) != 1 {
		t.Errorf("Expected 1 consumption row, got %d", len(consumptions))
	}

	// The item mirrors the backfilled cost; the sale price is untouched.
	order, err := orders.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	item := order.Items[0]
	if item.RecognizedTotalCost == nil || !item.RecognizedTotalCost.Equal(decimal.NewFromFloat(54.00)) {
		t.Errorf("Expected item recognized cost 54.00, got %v", item.RecognizedTotalCost)
	}
	if !item.UnitPrice.Equal(decimal.NewFromFloat(20.00)) {
		t.Errorf("Expected sale price untouched at 20.00, got %s", item.UnitPrice)
	}

	applied, err := orders.FifoApplied(ctx, orderID)
	if err != nil {
		t.Fatalf("FifoApplied failed: %v", err)
	}
	if !applied {
		t.Error("Expected fifo_applied=true after migration")
	}
}

func TestMigrateLegacyOrders_Idempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	_, movements := newStockServices(pool)
	migration, _ := newMigrationService(pool, cache.NewMemoryFlagCache())

	seedLegacyOrder(t, ctx, pool, 2, 6, 20.00)
	seedLot(t, ctx, movements, 2, 10, 9.00)

	migrated, _, err := migration.MigrateLegacyOrders(ctx, 0)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if migrated != 1 {
		t.Fatalf("Expected 1 migrated on first run, got %d", migrated)
	}

	// A second run finds nothing left to do.
	migrated, skipped, err := migration.MigrateLegacyOrders(ctx, 0)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if migrated != 0 || skipped != 0 {
		t.Errorf("Expected 0 migrated / 0 skipped on rerun, got %d / %d", migrated, skipped)
	}
}

func TestMigrateLegacyOrders_SkipsUncoveredStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	_, movements := newStockServices(pool)
	migration, _ := newMigrationService(pool, cache.NewMemoryFlagCache())

	// Sold 6 but only 4 ever landed as lots: the order stays legacy.
	seedLegacyOrder(t, ctx, pool, 2, 6, 20.00)
	seedLot(t, ctx, movements, 2, 4, 9.00)

	migrated, skipped, err := migration.MigrateLegacyOrders(ctx, 0)
	if err != nil {
		t.Fatalf("MigrateLegacyOrders failed: %v", err)
	}
	if migrated != 0 || skipped != 0 {
		t.Errorf("Expected 0 migrated / 0 skipped for uncovered order, got %d / %d", migrated, skipped)
	}
}
