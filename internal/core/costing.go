package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Mode selects how the costing policy treats a withdrawal. It is passed
// explicitly per call so staged rollouts and tests are deterministic; there is
// no process-wide flag.
type Mode string

const (
	// ModeFIFOIfAvailable uses FIFO lots whenever the product has any, and
	// falls back to the legacy aggregate average only for products that
	// predate the lot ledger.
	ModeFIFOIfAvailable Mode = "fifo"
	// ModeLegacyOnly forces the legacy average for every withdrawal.
	ModeLegacyOnly Mode = "legacy"
)

// CostedWithdrawal is the result of costing one withdrawal. Exactly two
// variants exist; callers type-switch instead of checking a boolean tag.
type CostedWithdrawal interface {
	// Cost returns the weighted unit cost (4 places) and the total cost
	// (2 places) recognized for the withdrawal.
	Cost() (unitCost, totalCost decimal.Decimal)
	costedWithdrawal()
}

// FifoCosted is a lot-linked withdrawal. Entries list the lots debited,
// oldest first; they must be persisted as audit rows alongside the movement.
type FifoCosted struct {
	Entries   []ConsumptionEntry
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
}

func (f *FifoCosted) Cost() (decimal.Decimal, decimal.Decimal) { return f.UnitCost, f.TotalCost }
func (*FifoCosted) costedWithdrawal()                          {}

// LegacyCosted is an average-costed withdrawal with no lot linkage, used only
// for inventory that predates the lot ledger.
type LegacyCosted struct {
	UnitCost  decimal.Decimal
	TotalCost decimal.Decimal
}

func (l *LegacyCosted) Cost() (decimal.Decimal, decimal.Decimal) { return l.UnitCost, l.TotalCost }
func (*LegacyCosted) costedWithdrawal()                          {}

// CostingPolicy decides, per withdrawal, whether FIFO lots are usable,
// whether the legacy fallback applies, or whether the operation must be
// rejected. It is invoked independently per product per order line.
type CostingPolicy struct {
	ledger *LotLedger
}

func NewCostingPolicy(ledger *LotLedger) *CostingPolicy {
	return &CostingPolicy{ledger: ledger}
}

// CostWithdrawalTx costs a withdrawal of quantity from productID inside the
// caller's transaction. On the FIFO path it mutates lot remainders (under row
// locks) and returns the consumption entries for the caller to audit; on the
// legacy path it computes an aggregate average and mutates nothing.
//
// Policy, per product state:
//   - lots cover the quantity: FIFO.
//   - product never had lots: legacy average over historical IN movements
//     up to asOf inclusive, rejected when the IN−OUT balance is short.
//   - lots exist but are insufficient: ErrInsufficientStock. Blending a
//     partial FIFO with a legacy remainder would make the recognized cost
//     non-reproducible and reversal ambiguous, so the mixed state is
//     deliberately rejected.
func (p *CostingPolicy) CostWithdrawalTx(ctx context.Context, tx pgx.Tx, productID int, quantity decimal.Decimal, asOf time.Time, mode Mode) (CostedWithdrawal, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("withdraw from product %d: %w", productID, ErrInvalidQuantity)
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}

	if mode == ModeLegacyOnly {
		return p.legacyCostTx(ctx, tx, productID, quantity, asOf)
	}

	available, err := p.ledger.availableQuantityTx(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	if available.IsPositive() {
		if available.LessThan(quantity) {
			// Mixed state: lots exist but cannot cover the withdrawal.
			return nil, fmt.Errorf("product %d has %s in lots, need %s: %w",
				productID, available.String(), quantity.String(), ErrInsufficientStock)
		}
		entries, err := p.ledger.consumeTx(ctx, tx, productID, quantity)
		if err != nil {
			return nil, err
		}
		unitCost, totalCost := consumptionCost(entries, quantity)
		return &FifoCosted{Entries: entries, UnitCost: unitCost, TotalCost: totalCost}, nil
	}

	// No open lots. Depleted lots still mean the product lives on the FIFO
	// ledger; only products with no lots at all fall back to legacy costing.
	hasLots, err := p.ledger.hasLotsTx(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if hasLots {
		return nil, fmt.Errorf("product %d has no remaining lot quantity: %w", productID, ErrInsufficientStock)
	}

	return p.legacyCostTx(ctx, tx, productID, quantity, asOf)
}

// legacyCostTx computes the pre-FIFO average cost: sum of IN movement values
// divided by IN quantities up to asOf inclusive. The withdrawal is rejected
// when the plain IN−OUT balance cannot cover it. No audit rows are produced.
func (p *CostingPolicy) legacyCostTx(ctx context.Context, tx pgx.Tx, productID int, quantity decimal.Decimal, asOf time.Time) (*LegacyCosted, error) {
	var inQty, inValue, outQty decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(quantity)    FILTER (WHERE movement_type = 'IN'), 0),
			COALESCE(SUM(total_value) FILTER (WHERE movement_type = 'IN'), 0),
			COALESCE(SUM(quantity)    FILTER (WHERE movement_type = 'OUT'), 0)
		FROM stock_movements
		WHERE product_id = $1 AND created_at <= $2
	`, productID, asOf).Scan(&inQty, &inValue, &outQty)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate historical movements for product %d: %w", productID, err)
	}

	if inQty.Sub(outQty).LessThan(quantity) {
		return nil, fmt.Errorf("product %d legacy balance %s, need %s: %w",
			productID, inQty.Sub(outQty).String(), quantity.String(), ErrInsufficientStock)
	}

	average := inValue.Div(inQty)
	return &LegacyCosted{
		UnitCost:  average.Round(unitCostScale),
		TotalCost: average.Mul(quantity).Round(totalCostScale),
	}, nil
}
