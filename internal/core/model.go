package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// LotOrigin records how a lot entered the ledger.
type LotOrigin string

const (
	LotOriginPurchase LotOrigin = "PURCHASE"
	LotOriginManual   LotOrigin = "MANUAL"
)

// OrderType distinguishes sale orders from purchase orders.
type OrderType string

const (
	OrderSale     OrderType = "SALE"
	OrderPurchase OrderType = "PURCHASE"
)

// Product is a sellable item in the catalog.
type Product struct {
	ID        int             `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Partner is a customer or supplier master record.
type Partner struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Document  string    `json:"document"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// StockLot is one batch of received stock. Lots are append-only: remaining_qty
// is decremented by consumption and restored by reversal, but a depleted lot is
// never deleted. UnitCost is fixed at creation and never recomputed.
type StockLot struct {
	ID           int             `json:"id"`
	ProductID    int             `json:"product_id"`
	InitialQty   decimal.Decimal `json:"initial_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Origin       LotOrigin       `json:"origin"`
	MovementID   *int            `json:"movement_id,omitempty"` // IN movement that created the lot
	Document     string          `json:"document"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StockMovement is a single inventory event. OUT movements costed by FIFO (or
// backfilled from legacy averages) carry recognized cost fields; legacy
// withdrawals carry them without lot linkage.
type StockMovement struct {
	ID                  int              `json:"id"`
	ProductID           int              `json:"product_id"`
	Type                MovementType     `json:"movement_type"`
	Quantity            decimal.Decimal  `json:"quantity"`
	UnitPrice           decimal.Decimal  `json:"unit_price"`
	Freight             decimal.Decimal  `json:"freight"`
	OtherCharges        decimal.Decimal  `json:"other_charges"`
	TotalValue          decimal.Decimal  `json:"total_value"`
	RecognizedUnitCost  *decimal.Decimal `json:"recognized_unit_cost,omitempty"`
	RecognizedTotalCost *decimal.Decimal `json:"recognized_total_cost,omitempty"`
	Document            string           `json:"document"` // correlates the movement with the order that caused it
	Notes               string           `json:"notes"`
	CreatedAt           time.Time        `json:"created_at"`
}

// LotConsumption links one OUT movement to a lot it drew from. Rows for a
// movement are ordered oldest lot first and their quantities sum to the
// movement quantity.
type LotConsumption struct {
	ID         int             `json:"id"`
	MovementID int             `json:"movement_id"`
	LotID      int             `json:"lot_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// Order is a sale or purchase order header.
type Order struct {
	ID           int             `json:"id"`
	Type         OrderType       `json:"order_type"`
	PartnerID    int             `json:"partner_id"`
	PartnerName  string          `json:"partner_name"` // joined from partners
	Freight      decimal.Decimal `json:"freight"`
	OtherCharges decimal.Decimal `json:"other_charges"`
	Total        decimal.Decimal `json:"total"`
	Notes        string          `json:"notes"`
	Items        []OrderItem     `json:"items"`
	CreatedAt    time.Time       `json:"created_at"`
}

// OrderItem carries the commercial fields of one order line plus the
// recognized cost mirrored from the movement(s) the line produced.
type OrderItem struct {
	ID                  int              `json:"id"`
	OrderID             int              `json:"order_id"`
	ProductID           int              `json:"product_id"`
	ProductCode         string           `json:"product_code"` // joined from products
	Quantity            decimal.Decimal  `json:"quantity"`
	UnitPrice           decimal.Decimal  `json:"unit_price"`
	DiscountPct         decimal.Decimal  `json:"discount_pct"`
	LineTotal           decimal.Decimal  `json:"line_total"`
	RecognizedUnitCost  *decimal.Decimal `json:"recognized_unit_cost,omitempty"`
	RecognizedTotalCost *decimal.Decimal `json:"recognized_total_cost,omitempty"`
}

// OrderDocument is the free-text tag written on movements created for an
// order, e.g. "SO-42" for sale order 42.
func OrderDocument(orderType OrderType, orderID int) string {
	if orderType == OrderPurchase {
		return fmt.Sprintf("PO-%d", orderID)
	}
	return fmt.Sprintf("SO-%d", orderID)
}
