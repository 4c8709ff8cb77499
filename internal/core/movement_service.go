package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// MovementService records stock movements. IN movements create lots; OUT
// movements are costed by the policy selector; adjustments are uncosted
// corrections. Tx-scoped methods let the order service compose movements
// atomically with order state.
type MovementService interface {
	// RecordEntry books an IN movement and creates the backing lot. The lot
	// unit cost is the landed cost (unitPrice*qty + freight + otherCharges)/qty.
	RecordEntry(ctx context.Context, in EntryInput) (*StockMovement, error)
	// RecordExit books an OUT movement costed by the policy selector and
	// returns the costing outcome. FIFO withdrawals persist recognized cost
	// fields and audit rows; legacy withdrawals persist neither — the
	// caller records the returned legacy cost on its own record.
	RecordExit(ctx context.Context, in ExitInput) (*StockMovement, CostedWithdrawal, error)
	// RecordAdjustment books a signed correction movement with no costing.
	RecordAdjustment(ctx context.Context, in AdjustmentInput) (*StockMovement, error)

	// Tx-scoped variants used by OrderService and the migration job.
	RecordEntryTx(ctx context.Context, tx pgx.Tx, in EntryInput) (*StockMovement, *StockLot, error)
	RecordExitTx(ctx context.Context, tx pgx.Tx, in ExitInput) (*StockMovement, CostedWithdrawal, error)
	// RemoveExitTx reverses a FIFO-costed OUT movement (restoring lots from
	// its audit rows) and deletes it. Legacy movements delete with nothing to
	// restore.
	RemoveExitTx(ctx context.Context, tx pgx.Tx, movementID int) error

	ListMovements(ctx context.Context, productID int) ([]StockMovement, error)
	// FindOrderExitsTx returns the OUT movements tagged with an order
	// document for one product, locked for update.
	FindOrderExitsTx(ctx context.Context, tx pgx.Tx, document string, productID int) ([]StockMovement, error)
}

// EntryInput describes a goods entry (purchase receipt or manual stock-in).
type EntryInput struct {
	ProductID    int
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	Freight      decimal.Decimal
	OtherCharges decimal.Decimal
	Origin       LotOrigin // defaults to MANUAL
	Document     string
	Notes        string
}

// ExitInput describes a goods withdrawal. Mode defaults to
// ModeFIFOIfAvailable; AsOf defaults to now and bounds the legacy average
// window.
type ExitInput struct {
	ProductID int
	Quantity  decimal.Decimal
	Document  string
	Notes     string
	AsOf      time.Time
	Mode      Mode
}

// AdjustmentInput describes a signed stock correction.
type AdjustmentInput struct {
	ProductID int
	Quantity  decimal.Decimal
	Document  string
	Notes     string
}

type movementService struct {
	pool   *pgxpool.Pool
	ledger *LotLedger
	policy *CostingPolicy
}

func NewMovementService(pool *pgxpool.Pool, ledger *LotLedger, policy *CostingPolicy) MovementService {
	return &movementService{pool: pool, ledger: ledger, policy: policy}
}

func (s *movementService) RecordEntry(ctx context.Context, in EntryInput) (*StockMovement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	movement, _, err := s.RecordEntryTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock entry: %w", err)
	}
	return movement, nil
}

func (s *movementService) RecordEntryTx(ctx context.Context, tx pgx.Tx, in EntryInput) (*StockMovement, *StockLot, error) {
	if !in.Quantity.IsPositive() {
		return nil, nil, fmt.Errorf("stock entry for product %d: %w", in.ProductID, ErrInvalidQuantity)
	}
	if in.UnitPrice.IsNegative() || in.Freight.IsNegative() || in.OtherCharges.IsNegative() {
		return nil, nil, fmt.Errorf("stock entry for product %d: negative value component", in.ProductID)
	}
	if in.Origin == "" {
		in.Origin = LotOriginManual
	}

	if err := productExistsTx(ctx, tx, in.ProductID); err != nil {
		return nil, nil, err
	}

	totalValue := in.Quantity.Mul(in.UnitPrice).Add(in.Freight).Add(in.OtherCharges)
	unitCost := totalValue.Div(in.Quantity)

	movement, err := insertMovementTx(ctx, tx, movementRow{
		productID:    in.ProductID,
		movementType: MovementIn,
		quantity:     in.Quantity,
		unitPrice:    in.UnitPrice,
		freight:      in.Freight,
		otherCharges: in.OtherCharges,
		totalValue:   totalValue,
		document:     in.Document,
		notes:        in.Notes,
	})
	if err != nil {
		return nil, nil, err
	}

	lot, err := s.ledger.CreateLotTx(ctx, tx, CreateLotParams{
		ProductID:  in.ProductID,
		Quantity:   in.Quantity,
		UnitCost:   unitCost,
		TotalCost:  totalValue,
		Origin:     in.Origin,
		MovementID: &movement.ID,
		Document:   in.Document,
	})
	if err != nil {
		return nil, nil, err
	}
	return movement, lot, nil
}

func (s *movementService) RecordExit(ctx context.Context, in ExitInput) (*StockMovement, CostedWithdrawal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	movement, costed, err := s.RecordExitTx(ctx, tx, in)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit stock exit: %w", err)
	}
	return movement, costed, nil
}

func (s *movementService) RecordExitTx(ctx context.Context, tx pgx.Tx, in ExitInput) (*StockMovement, CostedWithdrawal, error) {
	if !in.Quantity.IsPositive() {
		return nil, nil, fmt.Errorf("stock exit for product %d: %w", in.ProductID, ErrInvalidQuantity)
	}
	if in.Mode == "" {
		in.Mode = ModeFIFOIfAvailable
	}

	if err := productExistsTx(ctx, tx, in.ProductID); err != nil {
		return nil, nil, err
	}

	costed, err := s.policy.CostWithdrawalTx(ctx, tx, in.ProductID, in.Quantity, in.AsOf, in.Mode)
	if err != nil {
		return nil, nil, err
	}

	row := movementRow{
		productID:    in.ProductID,
		movementType: MovementOut,
		quantity:     in.Quantity,
		document:     in.Document,
		notes:        in.Notes,
	}
	// Recognized cost fields are populated iff the withdrawal is FIFO-costed.
	// A legacy movement keeps them NULL; that absence is what marks it for
	// the backfill job and what keeps the fifo-applied flag honest.
	if fifo, ok := costed.(*FifoCosted); ok {
		row.recognizedUnitCost = &fifo.UnitCost
		row.recognizedTotalCost = &fifo.TotalCost
	}

	movement, err := insertMovementTx(ctx, tx, row)
	if err != nil {
		return nil, nil, err
	}

	if fifo, ok := costed.(*FifoCosted); ok {
		if err := s.ledger.recordConsumptionsTx(ctx, tx, movement.ID, fifo.Entries); err != nil {
			return nil, nil, err
		}
	}
	return movement, costed, nil
}

func (s *movementService) RecordAdjustment(ctx context.Context, in AdjustmentInput) (*StockMovement, error) {
	if in.Quantity.IsZero() {
		return nil, fmt.Errorf("stock adjustment for product %d: %w", in.ProductID, ErrInvalidQuantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := productExistsTx(ctx, tx, in.ProductID); err != nil {
		return nil, err
	}

	movement, err := insertMovementTx(ctx, tx, movementRow{
		productID:    in.ProductID,
		movementType: MovementAdjustment,
		quantity:     in.Quantity,
		document:     in.Document,
		notes:        in.Notes,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit stock adjustment: %w", err)
	}
	return movement, nil
}

func (s *movementService) RemoveExitTx(ctx context.Context, tx pgx.Tx, movementID int) error {
	if err := s.ledger.reverseMovementConsumptionsTx(ctx, tx, movementID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"DELETE FROM stock_movements WHERE id = $1 AND movement_type = 'OUT'",
		movementID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete movement %d: %w", movementID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("movement %d is not a deletable OUT movement", movementID)
	}
	return nil
}

func (s *movementService) ListMovements(ctx context.Context, productID int) ([]StockMovement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, movement_type, quantity, unit_price, freight, other_charges,
		       total_value, recognized_unit_cost, recognized_total_cost, document, notes, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at, id
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements for product %d: %w", productID, err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (s *movementService) FindOrderExitsTx(ctx context.Context, tx pgx.Tx, document string, productID int) ([]StockMovement, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, product_id, movement_type, quantity, unit_price, freight, other_charges,
		       total_value, recognized_unit_cost, recognized_total_cost, document, notes, created_at
		FROM stock_movements
		WHERE document = $1 AND product_id = $2 AND movement_type = 'OUT'
		ORDER BY id
		FOR UPDATE
	`, document, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exits for %s product %d: %w", document, productID, err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ── Row helpers ───────────────────────────────────────────────────────────────

type movementRow struct {
	productID           int
	movementType        MovementType
	quantity            decimal.Decimal
	unitPrice           decimal.Decimal
	freight             decimal.Decimal
	otherCharges        decimal.Decimal
	totalValue          decimal.Decimal
	recognizedUnitCost  *decimal.Decimal
	recognizedTotalCost *decimal.Decimal
	document            string
	notes               string
}

func insertMovementTx(ctx context.Context, tx pgx.Tx, r movementRow) (*StockMovement, error) {
	var m StockMovement
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, movement_type, quantity, unit_price, freight, other_charges,
		                             total_value, recognized_unit_cost, recognized_total_cost, document, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, product_id, movement_type, quantity, unit_price, freight, other_charges,
		          total_value, recognized_unit_cost, recognized_total_cost, document, notes, created_at
	`, r.productID, r.movementType, r.quantity, r.unitPrice, r.freight, r.otherCharges,
		r.totalValue, r.recognizedUnitCost, r.recognizedTotalCost, r.document, r.notes,
	).Scan(
		&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.UnitPrice, &m.Freight, &m.OtherCharges,
		&m.TotalValue, &m.RecognizedUnitCost, &m.RecognizedTotalCost, &m.Document, &m.Notes, &m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s movement for product %d: %w", r.movementType, r.productID, err)
	}
	return &m, nil
}

func scanMovements(rows pgx.Rows) ([]StockMovement, error) {
	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(
			&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.UnitPrice, &m.Freight, &m.OtherCharges,
			&m.TotalValue, &m.RecognizedUnitCost, &m.RecognizedTotalCost, &m.Document, &m.Notes, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating movements: %w", err)
	}
	return movements, nil
}

func productExistsTx(ctx context.Context, tx pgx.Tx, productID int) error {
	var exists bool
	err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND is_active = true)",
		productID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to verify product %d: %w", productID, err)
	}
	if !exists {
		return fmt.Errorf("product %d not found", productID)
	}
	return nil
}
