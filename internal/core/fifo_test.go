package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func share(lotID int, remaining, unitCost float64) lotShare {
	return lotShare{
		lotID:     lotID,
		remaining: decimal.NewFromFloat(remaining),
		unitCost:  decimal.NewFromFloat(unitCost),
	}
}

func TestAllocateLots_OldestFirst(t *testing.T) {
	// L1 (5 @ 10.00), L2 (4 @ 14.00); consuming 9 drains both in order.
	lots := []lotShare{share(1, 5, 10.00), share(2, 4, 14.00)}

	entries, err := allocateLots(lots, decimal.NewFromInt(9))
	if err != nil {
		t.Fatalf("allocateLots failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].LotID != 1 || !entries[0].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected 5 from lot 1, got %s from lot %d", entries[0].Quantity, entries[0].LotID)
	}
	if entries[1].LotID != 2 || !entries[1].Quantity.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected 4 from lot 2, got %s from lot %d", entries[1].Quantity, entries[1].LotID)
	}
	if !entries[0].TotalCost.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected lot 1 cost 50, got %s", entries[0].TotalCost)
	}
	if !entries[1].TotalCost.Equal(decimal.NewFromInt(56)) {
		t.Errorf("Expected lot 2 cost 56, got %s", entries[1].TotalCost)
	}

	unitCost, totalCost := consumptionCost(entries, decimal.NewFromInt(9))
	if !totalCost.Equal(decimal.NewFromFloat(106.00)) {
		t.Errorf("Expected total cost 106.00, got %s", totalCost)
	}
	if !unitCost.Equal(decimal.NewFromFloat(11.7778)) {
		t.Errorf("Expected weighted unit cost 11.7778, got %s", unitCost)
	}
}

func TestAllocateLots_PartialLot(t *testing.T) {
	lots := []lotShare{share(1, 5, 10.00), share(2, 4, 14.00)}

	entries, err := allocateLots(lots, decimal.NewFromInt(3))
	if err != nil {
		t.Fatalf("allocateLots failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].LotID != 1 || !entries[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected 3 from lot 1, got %s from lot %d", entries[0].Quantity, entries[0].LotID)
	}
}

func TestAllocateLots_InsufficientStock(t *testing.T) {
	lots := []lotShare{share(1, 4, 10.00)}

	_, err := allocateLots(lots, decimal.NewFromInt(10))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}
}

func TestAllocateLots_NoLots(t *testing.T) {
	_, err := allocateLots(nil, decimal.NewFromInt(1))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("Expected ErrInsufficientStock, got %v", err)
	}
}

func TestAllocateLots_InvalidQuantity(t *testing.T) {
	lots := []lotShare{share(1, 5, 10.00)}

	for _, qty := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-3)} {
		if _, err := allocateLots(lots, qty); !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("Quantity %s: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}

func TestConsumptionCost_FullPrecisionAccumulation(t *testing.T) {
	// Three thirds at 0.10 each: per-entry costs are periodic, but the total
	// must come out exact because rounding only happens at the end.
	third := decimal.NewFromInt(1).Div(decimal.NewFromInt(3))
	unit := decimal.NewFromFloat(0.10)

	var entries []ConsumptionEntry
	for i := 0; i < 3; i++ {
		entries = append(entries, ConsumptionEntry{
			LotID:     1,
			Quantity:  third,
			UnitCost:  unit,
			TotalCost: third.Mul(unit),
		})
	}

	unitCost, totalCost := consumptionCost(entries, decimal.NewFromInt(1))
	if !totalCost.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("Expected total 0.10, got %s", totalCost)
	}
	if !unitCost.Equal(decimal.NewFromFloat(0.1000)) {
		t.Errorf("Expected unit cost 0.1000, got %s", unitCost)
	}
}
