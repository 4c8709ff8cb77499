package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"petstore-erp/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Handler holds the domain services and the chi router.
type Handler struct {
	movements   core.MovementService
	orders      core.OrderService
	migration   core.MigrationService
	ledger      *core.LotLedger
	defaultMode core.Mode
	log         *logrus.Logger
}

// NewHandler creates and wires the chi router with all routes. defaultMode is
// applied to exits and sale orders whose request body does not name a costing
// mode.
func NewHandler(
	movements core.MovementService,
	orders core.OrderService,
	migration core.MigrationService,
	ledger *core.LotLedger,
	defaultMode core.Mode,
	allowedOrigins string,
	log *logrus.Logger,
) http.Handler {
	h := &Handler{
		movements:   movements,
		orders:      orders,
		migration:   migration,
		ledger:      ledger,
		defaultMode: defaultMode,
		log:         log,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	// 1 MB body limit to prevent unbounded request abuse.
	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20))

		// Stock
		r.Post("/api/stock/entries", h.createEntry)
		r.Post("/api/stock/exits", h.createExit)
		r.Post("/api/stock/adjustments", h.createAdjustment)
		r.Get("/api/stock/{productID}/lots", h.listLots)
		r.Get("/api/stock/{productID}/movements", h.listMovements)
		r.Get("/api/stock/movements/{movementID}/consumptions", h.listConsumptions)

		// Orders
		r.Post("/api/orders", h.createOrder)
		r.Get("/api/orders", h.listOrders)
		r.Get("/api/orders/{id}", h.getOrder)
		r.Put("/api/orders/{id}/items", h.updateOrderItems)
		r.Get("/api/orders/{id}/fifo-applied", h.fifoApplied)

		// Admin
		r.Post("/api/admin/fifo-backfill", h.fifoBackfill)
	})

	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// parseMode resolves an optional costing mode string from a request body,
// falling back to the server default when empty. ok is false when the value is
// unrecognized (the error response has already been written).
func (h *Handler) parseMode(w http.ResponseWriter, r *http.Request, raw string) (core.Mode, bool) {
	switch core.Mode(raw) {
	case "":
		return h.defaultMode, true
	case core.ModeFIFOIfAvailable:
		return core.ModeFIFOIfAvailable, true
	case core.ModeLegacyOnly:
		return core.ModeLegacyOnly, true
	default:
		writeError(w, r, "costing_mode must be \"fifo\" or \"legacy\"", "BAD_REQUEST", http.StatusBadRequest)
		return "", false
	}
}

// pathID extracts a positive integer URL parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		writeError(w, r, name+" must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
