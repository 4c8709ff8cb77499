package web

import (
	"fmt"
	"net/http"

	"petstore-erp/internal/core"

	"github.com/shopspring/decimal"
)

// createOrder handles POST /api/orders. The order_type field selects a sale
// (lines are costed through the policy selector) or a purchase (lines create
// lots with freight prorated in).
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderType   string `json:"order_type"`
		PartnerID   int    `json:"partner_id"`
		Notes       string `json:"notes"`
		CostingMode string `json:"costing_mode"` // sales only

		Freight      string `json:"freight"`       // purchases only
		OtherCharges string `json:"other_charges"` // purchases only

		Lines []struct {
			ProductID   int    `json:"product_id"`
			Quantity    string `json:"quantity"`
			UnitPrice   string `json:"unit_price"`
			DiscountPct string `json:"discount_pct"`
		} `json:"lines"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.PartnerID <= 0 {
		writeError(w, r, "partner_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	if len(body.Lines) == 0 {
		writeError(w, r, "at least one line is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	type line struct {
		productID            int
		qty, price, discount decimal.Decimal
	}
	lines := make([]line, 0, len(body.Lines))
	for i, l := range body.Lines {
		qty, err := decimal.NewFromString(l.Quantity)
		if err != nil {
			writeError(w, r, fmt.Sprintf("line %d: invalid quantity", i+1), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		price, err := decimal.NewFromString(l.UnitPrice)
		if err != nil {
			writeError(w, r, fmt.Sprintf("line %d: invalid unit_price", i+1), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		discount, ok := optionalDecimal(w, r, fmt.Sprintf("line %d discount_pct", i+1), l.DiscountPct)
		if !ok {
			return
		}
		lines = append(lines, line{productID: l.ProductID, qty: qty, price: price, discount: discount})
	}

	switch core.OrderType(body.OrderType) {
	case core.OrderSale:
		mode, ok := h.parseMode(w, r, body.CostingMode)
		if !ok {
			return
		}
		in := core.SaleOrderInput{PartnerID: body.PartnerID, Notes: body.Notes, Mode: mode}
		for _, l := range lines {
			in.Lines = append(in.Lines, core.SaleOrderLineInput{
				ProductID:   l.productID,
				Quantity:    l.qty,
				UnitPrice:   l.price,
				DiscountPct: l.discount,
			})
		}
		order, err := h.orders.CreateSaleOrder(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, order)

	case core.OrderPurchase:
		freight, ok := optionalDecimal(w, r, "freight", body.Freight)
		if !ok {
			return
		}
		other, ok := optionalDecimal(w, r, "other_charges", body.OtherCharges)
		if !ok {
			return
		}
		in := core.PurchaseOrderInput{
			PartnerID:    body.PartnerID,
			Freight:      freight,
			OtherCharges: other,
			Notes:        body.Notes,
		}
		for _, l := range lines {
			in.Lines = append(in.Lines, core.PurchaseOrderLineInput{
				ProductID:   l.productID,
				Quantity:    l.qty,
				UnitPrice:   l.price,
				DiscountPct: l.discount,
			})
		}
		order, err := h.orders.CreatePurchaseOrder(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, order)

	default:
		writeError(w, r, "order_type must be \"SALE\" or \"PURCHASE\"", "BAD_REQUEST", http.StatusBadRequest)
	}
}

// listOrders handles GET /api/orders with an optional ?type=SALE|PURCHASE filter.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var typeFilter *core.OrderType
	switch t := core.OrderType(r.URL.Query().Get("type")); t {
	case "":
	case core.OrderSale, core.OrderPurchase:
		typeFilter = &t
	default:
		writeError(w, r, "type must be \"SALE\" or \"PURCHASE\"", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), typeFilter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, orders)
}

// getOrder handles GET /api/orders/{id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// updateOrderItems handles PUT /api/orders/{id}/items. Each item's previous
// withdrawal is reversed in full and re-consumed at the new quantity; the edit
// either applies completely or leaves the order untouched.
func (h *Handler) updateOrderItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var body struct {
		CostingMode string `json:"costing_mode"`
		Items       []struct {
			ProductID int    `json:"product_id"`
			Quantity  string `json:"quantity"`
		} `json:"items"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.Items) == 0 {
		writeError(w, r, "at least one item is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	mode, ok := h.parseMode(w, r, body.CostingMode)
	if !ok {
		return
	}

	updates := make([]core.ItemQuantityUpdate, 0, len(body.Items))
	for i, item := range body.Items {
		qty, err := decimal.NewFromString(item.Quantity)
		if err != nil {
			writeError(w, r, fmt.Sprintf("item %d: invalid quantity", i+1), "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		updates = append(updates, core.ItemQuantityUpdate{ProductID: item.ProductID, Quantity: qty})
	}

	order, err := h.orders.UpdateSaleOrderItems(r.Context(), id, updates, mode)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

// fifoApplied handles GET /api/orders/{id}/fifo-applied.
func (h *Handler) fifoApplied(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	applied, err := h.orders.FifoApplied(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	type response struct {
		OrderID     int  `json:"order_id"`
		FifoApplied bool `json:"fifo_applied"`
	}
	writeJSON(w, response{OrderID: id, FifoApplied: applied})
}
