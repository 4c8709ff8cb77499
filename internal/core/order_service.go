package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"petstore-erp/internal/cache"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// fifoAppliedTTL bounds staleness of the cached derived flag; every
// recompute and migration deletes the key anyway.
const fifoAppliedTTL = 10 * time.Minute

// OrderService manages sale and purchase orders and keeps their recognized
// costs consistent with the movements and lots they produce.
type OrderService interface {
	// CreateSaleOrder costs every line independently through the policy
	// selector; one order can mix FIFO-costed and legacy-costed lines. The
	// whole creation is atomic: any uncoverable line rejects the order.
	CreateSaleOrder(ctx context.Context, in SaleOrderInput) (*Order, error)
	// CreatePurchaseOrder always creates one lot per line, with freight and
	// other charges prorated into lot cost by line value.
	CreatePurchaseOrder(ctx context.Context, in PurchaseOrderInput) (*Order, error)
	// UpdateSaleOrderItems recomputes cost per product present in the
	// payload: the previous withdrawal is fully reversed and re-consumed at
	// the new quantity. Lines absent from the payload are untouched. The
	// edit is all-or-nothing; on failure lots, movements and items remain
	// exactly as before.
	UpdateSaleOrderItems(ctx context.Context, orderID int, updates []ItemQuantityUpdate, mode Mode) (*Order, error)

	GetOrder(ctx context.Context, orderID int) (*Order, error)
	ListOrders(ctx context.Context, orderType *OrderType) ([]Order, error)
	// FifoApplied reports whether the order's recognized costs are fully
	// FIFO-sourced: purchases always are; a sale is iff every OUT movement
	// tagged to it carries a non-null, non-zero recognized total cost. The
	// flag is derived on read and cached, never stored authoritatively.
	FifoApplied(ctx context.Context, orderID int) (bool, error)
}

// SaleOrderLineInput is one line of a new sale order.
type SaleOrderLineInput struct {
	ProductID   int
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
}

// SaleOrderInput creates a sale order. Mode defaults to ModeFIFOIfAvailable.
type SaleOrderInput struct {
	PartnerID int
	Lines     []SaleOrderLineInput
	Notes     string
	Mode      Mode
}

// PurchaseOrderLineInput is one line of a new purchase order.
type PurchaseOrderLineInput struct {
	ProductID   int
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
}

// PurchaseOrderInput creates a purchase order. Freight and OtherCharges are
// order-level amounts prorated into lot costs.
type PurchaseOrderInput struct {
	PartnerID    int
	Lines        []PurchaseOrderLineInput
	Freight      decimal.Decimal
	OtherCharges decimal.Decimal
	Notes        string
}

// ItemQuantityUpdate changes one sale order line's quantity.
type ItemQuantityUpdate struct {
	ProductID int
	Quantity  decimal.Decimal
}

type orderService struct {
	pool      *pgxpool.Pool
	movements MovementService
	flags     cache.FlagCache
}

func NewOrderService(pool *pgxpool.Pool, movements MovementService, flags cache.FlagCache) OrderService {
	if flags == nil {
		flags = cache.NoopFlagCache{}
	}
	return &orderService{pool: pool, movements: movements, flags: flags}
}

func fifoAppliedKey(orderID int) string {
	return fmt.Sprintf("fifo-applied:%d", orderID)
}

// lineTotal applies the percentage discount to quantity × unit price.
func lineTotal(qty, unitPrice, discountPct decimal.Decimal) decimal.Decimal {
	gross := qty.Mul(unitPrice)
	if discountPct.IsZero() {
		return gross
	}
	return gross.Sub(gross.Mul(discountPct).Div(decimal.NewFromInt(100))).Round(totalCostScale)
}

// ── Sale orders ──────────────────────────────────────────────────────────────

func (s *orderService) CreateSaleOrder(ctx context.Context, in SaleOrderInput) (*Order, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("sale order must have at least one line")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := partnerExistsTx(ctx, tx, in.PartnerID); err != nil {
		return nil, err
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_type, partner_id, freight, other_charges, total, notes)
		VALUES ('SALE', $1, 0, 0, 0, $2)
		RETURNING id
	`, in.PartnerID, in.Notes).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sale order: %w", err)
	}

	document := OrderDocument(OrderSale, orderID)
	orderTotal := decimal.Zero

	for i, line := range in.Lines {
		// Each line is costed independently: product A's lots never gate
		// product B's line.
		_, costed, err := s.movements.RecordExitTx(ctx, tx, ExitInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Document:  document,
			Notes:     fmt.Sprintf("sale order %d line %d", orderID, i+1),
			Mode:      in.Mode,
		})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		unitCost, totalCost := costed.Cost()

		total := lineTotal(line.Quantity, line.UnitPrice, line.DiscountPct)
		orderTotal = orderTotal.Add(total)

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, discount_pct, line_total,
			                         recognized_unit_cost, recognized_total_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, orderID, line.ProductID, line.Quantity, line.UnitPrice, line.DiscountPct, total,
			unitCost, totalCost)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item %d: %w", i+1, err)
		}
	}

	if _, err = tx.Exec(ctx, "UPDATE orders SET total = $1 WHERE id = $2", orderTotal, orderID); err != nil {
		return nil, fmt.Errorf("failed to set order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit sale order: %w", err)
	}
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) UpdateSaleOrderItems(ctx context.Context, orderID int, updates []ItemQuantityUpdate, mode Mode) (*Order, error) {
	if len(updates) == 0 {
		return s.GetOrder(ctx, orderID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var orderType OrderType
	err = tx.QueryRow(ctx,
		"SELECT order_type FROM orders WHERE id = $1 FOR UPDATE",
		orderID,
	).Scan(&orderType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d not found", orderID)
		}
		return nil, fmt.Errorf("failed to lock order %d: %w", orderID, err)
	}
	if orderType != OrderSale {
		return nil, fmt.Errorf("order %d is not a sale order", orderID)
	}

	document := OrderDocument(OrderSale, orderID)

	for _, u := range updates {
		var itemID int
		var unitPrice, discountPct decimal.Decimal
		err = tx.QueryRow(ctx, `
			SELECT id, unit_price, discount_pct
			FROM order_items
			WHERE order_id = $1 AND product_id = $2
			FOR UPDATE
		`, orderID, u.ProductID).Scan(&itemID, &unitPrice, &discountPct)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("order %d has no line for product %d", orderID, u.ProductID)
			}
			return nil, fmt.Errorf("failed to lock order item: %w", err)
		}

		// Reverse all, reconsume all: the previous withdrawal is undone in
		// full (restoring its lots) before the new quantity is costed. Only
		// this product's lots are touched.
		exits, err := s.movements.FindOrderExitsTx(ctx, tx, document, u.ProductID)
		if err != nil {
			return nil, err
		}
		for _, m := range exits {
			if err := s.movements.RemoveExitTx(ctx, tx, m.ID); err != nil {
				return nil, err
			}
		}

		_, costed, err := s.movements.RecordExitTx(ctx, tx, ExitInput{
			ProductID: u.ProductID,
			Quantity:  u.Quantity,
			Document:  document,
			Notes:     fmt.Sprintf("sale order %d recompute", orderID),
			Mode:      mode,
		})
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", u.ProductID, err)
		}
		unitCost, totalCost := costed.Cost()

		total := lineTotal(u.Quantity, unitPrice, discountPct)
		_, err = tx.Exec(ctx, `
			UPDATE order_items
			SET quantity = $1, line_total = $2, recognized_unit_cost = $3, recognized_total_cost = $4
			WHERE id = $5
		`, u.Quantity, total, unitCost, totalCost, itemID)
		if err != nil {
			return nil, fmt.Errorf("failed to update order item %d: %w", itemID, err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET total = (SELECT COALESCE(SUM(line_total), 0) FROM order_items WHERE order_id = $1)
		WHERE id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order edit: %w", err)
	}

	if err := s.flags.Delete(ctx, fifoAppliedKey(orderID)); err != nil {
		return nil, fmt.Errorf("failed to invalidate fifo-applied flag for order %d: %w", orderID, err)
	}
	return s.GetOrder(ctx, orderID)
}

// ── Purchase orders ──────────────────────────────────────────────────────────

func (s *orderService) CreatePurchaseOrder(ctx context.Context, in PurchaseOrderInput) (*Order, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("purchase order must have at least one line")
	}
	if in.Freight.IsNegative() || in.OtherCharges.IsNegative() {
		return nil, fmt.Errorf("purchase order charges cannot be negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := partnerExistsTx(ctx, tx, in.PartnerID); err != nil {
		return nil, err
	}

	// Line values drive the freight proration.
	lineValues := make([]decimal.Decimal, len(in.Lines))
	orderValue := decimal.Zero
	for i, line := range in.Lines {
		if !line.Quantity.IsPositive() {
			return nil, fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
		lineValues[i] = lineTotal(line.Quantity, line.UnitPrice, line.DiscountPct)
		orderValue = orderValue.Add(lineValues[i])
	}

	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_type, partner_id, freight, other_charges, total, notes)
		VALUES ('PURCHASE', $1, $2, $3, $4, $5)
		RETURNING id
	`, in.PartnerID, in.Freight, in.OtherCharges, orderValue.Add(in.Freight).Add(in.OtherCharges), in.Notes).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert purchase order: %w", err)
	}

	document := OrderDocument(OrderPurchase, orderID)
	charges := in.Freight.Add(in.OtherCharges)

	for i, line := range in.Lines {
		// Prorate order-level charges by line value; a zero-value order
		// splits them evenly.
		var prorated decimal.Decimal
		if charges.IsPositive() {
			if orderValue.IsPositive() {
				prorated = charges.Mul(lineValues[i]).Div(orderValue)
			} else {
				prorated = charges.Div(decimal.NewFromInt(int64(len(in.Lines))))
			}
		}

		movement, _, err := s.movements.RecordEntryTx(ctx, tx, EntryInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: lineValues[i].Div(line.Quantity),
			Freight:   prorated,
			Origin:    LotOriginPurchase,
			Document:  document,
			Notes:     fmt.Sprintf("purchase order %d line %d", orderID, i+1),
		})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}

		lotUnitCost := movement.TotalValue.Div(line.Quantity).Round(unitCostScale)
		lotTotalCost := movement.TotalValue.Round(totalCostScale)
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, discount_pct, line_total,
			                         recognized_unit_cost, recognized_total_cost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, orderID, line.ProductID, line.Quantity, line.UnitPrice, line.DiscountPct, lineValues[i],
			lotUnitCost, lotTotalCost)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase order: %w", err)
	}
	return s.GetOrder(ctx, orderID)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT o.id, o.order_type, o.partner_id, p.name, o.freight, o.other_charges, o.total, o.notes, o.created_at
		FROM orders o
		JOIN partners p ON p.id = o.partner_id
		WHERE o.id = $1
	`, orderID).Scan(
		&o.ID, &o.Type, &o.PartnerID, &o.PartnerName,
		&o.Freight, &o.OtherCharges, &o.Total, &o.Notes, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d not found", orderID)
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, pr.code, oi.quantity, oi.unit_price, oi.discount_pct,
		       oi.line_total, oi.recognized_unit_cost, oi.recognized_total_cost
		FROM order_items oi
		JOIN products pr ON pr.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.ProductCode, &it.Quantity, &it.UnitPrice, &it.DiscountPct,
			&it.LineTotal, &it.RecognizedUnitCost, &it.RecognizedTotalCost,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return &o, nil
}

func (s *orderService) ListOrders(ctx context.Context, orderType *OrderType) ([]Order, error) {
	query := `
		SELECT o.id, o.order_type, o.partner_id, p.name, o.freight, o.other_charges, o.total, o.notes, o.created_at
		FROM orders o
		JOIN partners p ON p.id = o.partner_id
	`
	args := []any{}
	if orderType != nil {
		query += " WHERE o.order_type = $1"
		args = append(args, *orderType)
	}
	query += " ORDER BY o.id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.Type, &o.PartnerID, &o.PartnerName,
			&o.Freight, &o.OtherCharges, &o.Total, &o.Notes, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *orderService) FifoApplied(ctx context.Context, orderID int) (bool, error) {
	key := fifoAppliedKey(orderID)
	if applied, found, err := s.flags.Get(ctx, key); err == nil && found {
		return applied, nil
	}

	var orderType OrderType
	err := s.pool.QueryRow(ctx, "SELECT order_type FROM orders WHERE id = $1", orderID).Scan(&orderType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("order %d not found", orderID)
		}
		return false, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	applied := true
	if orderType == OrderSale {
		// A sale is FIFO-applied iff no OUT movement tagged to it lacks a
		// recognized total cost.
		var pending bool
		err = s.pool.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM stock_movements
				WHERE document = $1 AND movement_type = 'OUT'
				  AND (recognized_total_cost IS NULL OR recognized_total_cost = 0)
			)
		`, OrderDocument(OrderSale, orderID)).Scan(&pending)
		if err != nil {
			return false, fmt.Errorf("failed to compute fifo-applied for order %d: %w", orderID, err)
		}
		applied = !pending
	}

	_ = s.flags.Set(ctx, key, applied, fifoAppliedTTL)
	return applied, nil
}

func partnerExistsTx(ctx context.Context, tx pgx.Tx, partnerID int) error {
	var exists bool
	err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM partners WHERE id = $1)",
		partnerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to verify partner %d: %w", partnerID, err)
	}
	if !exists {
		return fmt.Errorf("partner %d not found", partnerID)
	}
	return nil
}
