package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"petstore-erp/internal/core"

	"github.com/shopspring/decimal"
)

func TestSaleOrder_MixedCostingLines(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	movements, orders, _ := newOrderServices(pool)

	// Product 1 is on the lot ledger; product 2 only has pre-ledger history.
	seedLot(t, ctx, movements, 1, 10, 12.00)
	seedLegacyHistory(t, ctx, pool, 2, "LEGACY-IN-1", core.MovementIn, 10, 80)
	seedLegacyHistory(t, ctx, pool, 2, "LEGACY-IN-2", core.MovementIn, 5, 50)

	order, err := orders.CreateSaleOrder(ctx, core.SaleOrderInput{
		PartnerID: 1,
		Lines: []core.SaleOrderLineInput{
			{ProductID: 1, Quantity: decimal.NewFromInt(4), UnitPrice: decimal.NewFromFloat(30.00)},
			{ProductID: 2, Quantity: decimal.NewFromInt(6), UnitPrice: decimal.NewFromFloat(15.00)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSaleOrder failed: %v", err)
	}
	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(order.Items))
	}

	// Line 1: FIFO, 4 × 12.00.
	if order.Items[0].RecognizedTotalCost == nil || !order.Items[0].RecognizedTotalCost.Equal(decimal.NewFromFloat(48.00)) {
		t.Errorf("Expected line 1 recognized cost 48.00, got %v", order.Items[0].RecognizedTotalCost)
	}
	// Line 2: legacy average 130/15 = 8.6667 → 52.00 for 6.
	if order.Items[1].RecognizedTotalCost == nil || !order.Items[1].RecognizedTotalCost.Equal(decimal.NewFromFloat(52.00)) {
		t.Errorf("Expected line 2 recognized cost 52.00, got %v", order.Items[1].RecognizedTotalCost)
	}
	if order.Items[1].RecognizedUnitCost == nil || !order.Items[1].RecognizedUnitCost.Equal(decimal.NewFromFloat(8.6667)) {
		t.Errorf("Expected line 2 recognized unit cost 8.6667, got %v", order.Items[1].RecognizedUnitCost)
	}

	// Commercial total: 4×30 + 6×15 = 210.
	if !order.Total.Equal(decimal.NewFromFloat(210.00)) {
		t.Errorf("Expected order total 210.00, got %s", order.Total)
	}

	// The legacy line leaves a movement without recognized cost, so the order
	// is not fully FIFO-applied.
	applied, err := orders.FifoApplied(ctx, order.ID)
	if err != nil {
		t.Fatalf("FifoApplied failed: %v", err)
	}
	if applied {
		t.Error("Expected fifo_applied=false for an order with a legacy line")
	}
}

func TestUpdateSaleOrderItems_ReverseAllReconsume(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	movements, orders, _ := newOrderServices(pool)
	ledger, _ := newStockServices(pool)

	// L1 (3 @ 10.00), L2 (4 @ 14.00).
	seedLot(t, ctx, movements, 1, 3, 10.00)
	seedLot(t, ctx, movements, 1, 4, 14.00)

	order, err := orders.CreateSaleOrder(ctx, core.SaleOrderInput{
		PartnerID: 1,
		Lines: []core.SaleOrderLineInput{
			{ProductID: 1, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(25.00)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSaleOrder failed: %v", err)
	}
	if order.Items[0].RecognizedTotalCost == nil || !order.Items[0].RecognizedTotalCost.Equal(decimal.NewFromFloat(20.00)) {
		t.Fatalf("Expected original cost 20.00, got %v", order.Items[0].RecognizedTotalCost)
	}

	// Raise the line to 5: the original withdrawal of 2 is fully reversed,
	// then 5 is consumed fresh (3 from L1 + 2 from L2 = 58.00).
	order, err = orders.UpdateSaleOrderItems(ctx, order.ID, []core.ItemQuantityUpdate{
		{ProductID: 1, Quantity: decimal.NewFromInt(5)},
	}, core.ModeFIFOIfAvailable)
	if err != nil {
		t.Fatalf("UpdateSaleOrderItems failed: %v", err)
	}

	item := order.Items[0]
	if !item.Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected quantity 5, got %s", item.Quantity)
	}
	if item.RecognizedTotalCost == nil || !item.RecognizedTotalCost.Equal(decimal.NewFromFloat(58.00)) {
		t.Errorf("Expected recognized cost 58.00, got %v", item.RecognizedTotalCost)
	}
	if item.RecognizedUnitCost == nil || !item.RecognizedUnitCost.Equal(decimal.NewFromFloat(11.60)) {
		t.Errorf("Expected recognized unit cost 11.60, got %v", item.RecognizedUnitCost)
	}
	// Commercial side follows the new quantity: 5 × 25.00.
	if !order.Total.Equal(decimal.NewFromFloat(125.00)) {
		t.Errorf("Expected order total 125.00, got %s", order.Total)
	}

	remainings := lotRemainings(t, ctx, ledger, 1)
	if len(remainings) != 2 || !remainings[0].IsZero() || !remainings[1].Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected lots at 0 and 2 after recompute, got %v", remainings)
	}
}

func TestUpdateSaleOrderItems_RollbackOnInsufficient(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	movements, orders, _ := newOrderServices(pool)
	ledger, _ := newStockServices(pool)

	seedLot(t, ctx, movements, 1, 3, 10.00)
	seedLot(t, ctx, movements, 1, 4, 14.00)

	order, err := orders.CreateSaleOrder(ctx, core.SaleOrderInput{
		PartnerID: 1,
		Lines: []core.SaleOrderLineInput{
			{ProductID: 1, Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(25.00)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSaleOrder failed: %v", err)
	}

	// 5 units remain after the sale; asking for 10 must fail and leave the
	// order and the lots exactly as they were.
	_, err = orders.UpdateSaleOrderItems(ctx, order.ID, []core.ItemQuantityUpdate{
		{ProductID: 1, Quantity: decimal.NewFromInt(10)},
	}, core.ModeFIFOIfAvailable)
	if !errors.Is(err, core.ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}

	reloaded, err := orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	item := reloaded.Items[0]
	if !item.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Expected quantity still 2, got %s", item.Quantity)
	}
	if item.RecognizedTotalCost == nil || !item.RecognizedTotalCost.Equal(decimal.NewFromFloat(20.00)) {
		t.Errorf("Expected recognized cost still 20.00, got %v", item.RecognizedTotalCost)
	}

	remainings := lotRemainings(t, ctx, ledger, 1)
	if len(remainings) != 2 || !remainings[0].Equal(decimal.NewFromInt(1)) || !remainings[1].Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected lots at 1 and 4 after rollback, got %v", remainings)
	}
}

func TestPurchaseOrder_FreightProration(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	_, orders, _ := newOrderServices(pool)
	ledger, _ := newStockServices(pool)

	// Line values 100 and 300; freight 40 splits 10 / 30 by value.
	order, err := orders.CreatePurchaseOrder(ctx, core.PurchaseOrderInput{
		PartnerID: 2,
		Freight:   decimal.NewFromFloat(40.00),
		Lines: []core.PurchaseOrderLineInput{
			{ProductID: 1, Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromFloat(10.00)},
			{ProductID: 2, Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromFloat(30.00)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder failed: %v", err)
	}

	// Order total includes charges: 400 + 40.
	if !order.Total.Equal(decimal.NewFromFloat(440.00)) {
		t.Errorf("Expected order total 440.00, got %s", order.Total)
	}

	// Landed lot costs: (100+10)/10 = 11.00 and (300+30)/10 = 33.00.
	lots1, err := ledger.ListLots(ctx, 1)
	if err != nil {
		t.Fatalf("ListLots failed: %v", err)
	}
	if len(lots1) != 1 || !lots1[0].UnitCost.Equal(decimal.NewFromFloat(11.00)) {
		t.Errorf("Expected product 1 lot at unit cost 11.00, got %v", lots1)
	}
	if lots1[0].Origin != core.LotOriginPurchase {
		t.Errorf("Expected PURCHASE origin, got %s", lots1[0].Origin)
	}

	lots2, err := ledger.ListLots(ctx, 2)
	if err != nil {
		t.Fatalf("ListLots failed: %v", err)
	}
	if len(lots2) != 1 || !lots2[0].UnitCost.Equal(decimal.NewFromFloat(33.00)) {
		t.Errorf("Expected product 2 lot at unit cost 33.00, got %v", lots2)
	}

	// Items mirror the landed cost.
	if order.Items[0].RecognizedTotalCost == nil || !order.Items[0].RecognizedTotalCost.Equal(decimal.NewFromFloat(110.00)) {
		t.Errorf("Expected item 1 recognized cost 110.00, got %v", order.Items[0].RecognizedTotalCost)
	}

	// Purchases are always FIFO-applied.
	applied, err := orders.FifoApplied(ctx, order.ID)
	if err != nil {
		t.Fatalf("FifoApplied failed: %v", err)
	}
	if !applied {
		t.Error("Expected fifo_applied=true for a purchase order")
	}
}

func TestFifoApplied_CachedAndInvalidatedOnEdit(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	movements, orders, flags := newOrderServices(pool)

	seedLot(t, ctx, movements, 1, 10, 12.00)

	order, err := orders.CreateSaleOrder(ctx, core.SaleOrderInput{
		PartnerID: 1,
		Lines: []core.SaleOrderLineInput{
			{ProductID: 1, Quantity: decimal.NewFromInt(4), UnitPrice: decimal.NewFromFloat(30.00)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSaleOrder failed: %v", err)
	}

	applied, err := orders.FifoApplied(ctx, order.ID)
	if err != nil {
		t.Fatalf("FifoApplied failed: %v", err)
	}
	if !applied {
		t.Fatal("Expected fifo_applied=true for a fully FIFO-costed sale")
	}

	// The read populated the cache.
	key := fmt.Sprintf("fifo-applied:%d", order.ID)
	if _, found, _ := flags.Get(ctx, key); !found {
		t.Error("Expected the flag to be cached after a read")
	}

	// Editing the order drops the cached flag.
	if _, err := orders.UpdateSaleOrderItems(ctx, order.ID, []core.ItemQuantityUpdate{
		{ProductID: 1, Quantity: decimal.NewFromInt(6)},
	}, core.ModeFIFOIfAvailable); err != nil {
		t.Fatalf("UpdateSaleOrderItems failed: %v", err)
	}
	if _, found, _ := flags.Get(ctx, key); found {
		t.Error("Expected the cached flag to be invalidated by the edit")
	}
}
