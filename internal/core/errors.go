package core

import "errors"

// ErrInsufficientStock is returned when lots (or, on the legacy path, the
// aggregate movement balance) cannot cover a requested withdrawal. The
// enclosing transaction is always rolled back; no partial lot decrement
// survives.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrInvalidQuantity is returned for non-positive withdrawal or lot
// quantities, before the ledger is touched.
var ErrInvalidQuantity = errors.New("quantity must be positive")
