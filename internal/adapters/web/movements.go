package web

import (
	"fmt"
	"net/http"
	"time"

	"petstore-erp/internal/core"

	"github.com/shopspring/decimal"
)

// createEntry handles POST /api/stock/entries.
func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID    int    `json:"product_id"`
		Quantity     string `json:"quantity"`
		UnitPrice    string `json:"unit_price"`
		Freight      string `json:"freight"`
		OtherCharges string `json:"other_charges"`
		Document     string `json:"document"`
		Notes        string `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ProductID <= 0 {
		writeError(w, r, "product_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	qty, err := decimal.NewFromString(body.Quantity)
	if err != nil {
		writeError(w, r, "invalid quantity", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(body.UnitPrice)
	if err != nil {
		writeError(w, r, "invalid unit_price", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	freight, ok := optionalDecimal(w, r, "freight", body.Freight)
	if !ok {
		return
	}
	other, ok := optionalDecimal(w, r, "other_charges", body.OtherCharges)
	if !ok {
		return
	}

	movement, err := h.movements.RecordEntry(r.Context(), core.EntryInput{
		ProductID:    body.ProductID,
		Quantity:     qty,
		UnitPrice:    price,
		Freight:      freight,
		OtherCharges: other,
		Origin:       core.LotOriginManual,
		Document:     body.Document,
		Notes:        body.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, movement)
}

// createExit handles POST /api/stock/exits. The response carries the movement
// plus how the withdrawal was costed.
func (h *Handler) createExit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID   int    `json:"product_id"`
		Quantity    string `json:"quantity"`
		Document    string `json:"document"`
		Notes       string `json:"notes"`
		AsOf        string `json:"as_of"` // RFC 3339, optional
		CostingMode string `json:"costing_mode"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ProductID <= 0 {
		writeError(w, r, "product_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	qty, err := decimal.NewFromString(body.Quantity)
	if err != nil {
		writeError(w, r, "invalid quantity", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	mode, ok := h.parseMode(w, r, body.CostingMode)
	if !ok {
		return
	}
	var asOf time.Time
	if body.AsOf != "" {
		asOf, err = time.Parse(time.RFC3339, body.AsOf)
		if err != nil {
			writeError(w, r, "as_of must be RFC 3339", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}

	movement, costed, err := h.movements.RecordExit(r.Context(), core.ExitInput{
		ProductID: body.ProductID,
		Quantity:  qty,
		Document:  body.Document,
		Notes:     body.Notes,
		AsOf:      asOf,
		Mode:      mode,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, exitResponse(movement, costed))
}

// createAdjustment handles POST /api/stock/adjustments.
func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID int    `json:"product_id"`
		Quantity  string `json:"quantity"` // signed
		Document  string `json:"document"`
		Notes     string `json:"notes"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.ProductID <= 0 {
		writeError(w, r, "product_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	qty, err := decimal.NewFromString(body.Quantity)
	if err != nil {
		writeError(w, r, "invalid quantity", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	movement, err := h.movements.RecordAdjustment(r.Context(), core.AdjustmentInput{
		ProductID: body.ProductID,
		Quantity:  qty,
		Document:  body.Document,
		Notes:     body.Notes,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, movement)
}

// listLots handles GET /api/stock/{productID}/lots.
func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	lots, err := h.ledger.ListLots(r.Context(), productID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	available, err := h.ledger.AvailableQuantity(r.Context(), productID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type response struct {
		ProductID int             `json:"product_id"`
		Available decimal.Decimal `json:"available_quantity"`
		Lots      []core.StockLot `json:"lots"`
	}
	writeJSON(w, response{ProductID: productID, Available: available, Lots: lots})
}

// listMovements handles GET /api/stock/{productID}/movements.
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	movements, err := h.movements.ListMovements(r.Context(), productID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, movements)
}

// listConsumptions handles GET /api/stock/movements/{movementID}/consumptions.
// FIFO-costed movements return one row per lot debited; legacy movements
// return an empty list.
func (h *Handler) listConsumptions(w http.ResponseWriter, r *http.Request) {
	movementID, ok := pathID(w, r, "movementID")
	if !ok {
		return
	}
	consumptions, err := h.ledger.ListConsumptions(r.Context(), movementID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, consumptions)
}

// exitResponse flattens the movement and its costing outcome into one payload.
func exitResponse(movement *core.StockMovement, costed core.CostedWithdrawal) any {
	unitCost, totalCost := costed.Cost()
	resp := struct {
		Movement  *core.StockMovement     `json:"movement"`
		Costing   string                  `json:"costing"`
		UnitCost  decimal.Decimal         `json:"unit_cost"`
		TotalCost decimal.Decimal         `json:"total_cost"`
		Lots      []core.ConsumptionEntry `json:"lots,omitempty"`
	}{
		Movement:  movement,
		UnitCost:  unitCost,
		TotalCost: totalCost,
	}
	switch c := costed.(type) {
	case *core.FifoCosted:
		resp.Costing = "fifo"
		resp.Lots = c.Entries
	case *core.LegacyCosted:
		resp.Costing = "legacy"
	}
	return resp
}

func optionalDecimal(w http.ResponseWriter, r *http.Request, field, raw string) (decimal.Decimal, bool) {
	if raw == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, r, fmt.Sprintf("invalid %s", field), "BAD_REQUEST", http.StatusBadRequest)
		return decimal.Decimal{}, false
	}
	return d, true
}
