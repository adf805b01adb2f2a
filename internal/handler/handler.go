// Package handler exposes the checkout core over JSON HTTP. Routing is chi;
// every handler decodes, delegates to a domain service, and maps domain
// errors to status codes in one place (mapError).
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
	"github.com/xenking/freshmart-checkout/internal/domain/refund"
)

// Handler wires the domain services to HTTP routes.
type Handler struct {
	orders     *order.Service
	credit     *credit.Service
	reconciler *payment.Reconciler
	refunds    *refund.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orders *order.Service,
	creditSvc *credit.Service,
	reconciler *payment.Reconciler,
	refunds *refund.Service,
) *Handler {
	return &Handler{
		orders:     orders,
		credit:     creditSvc,
		reconciler: reconciler,
		refunds:    refunds,
	}
}

// Routes registers all API routes on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Post("/payments/initiate", h.initiatePayment)
	r.Post("/payments/confirm", h.confirmPayment)
	r.Post("/credit/topup", h.topUpCredit)
	r.Get("/credit", h.getCredit)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/refund", h.requestRefund)
	r.Get("/admin/orders", h.listAllOrders)
	r.Post("/admin/orders/{id}/refund-decision", h.decideRefund)
	r.Post("/admin/orders/{id}/status", h.updateOrderStatus)
	r.Post("/admin/users/{id}/cancel-orders", h.cancelUserOrders)
}

// userID extracts the authenticated user from the X-User-ID header. The
// session layer upstream is responsible for populating it.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

type errorResponse struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, errorResponse{Error: msg})
}

// decode reads the JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireUser answers 401 when no user header is present.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := userID(r)
	if id == "" {
		respondError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return id, true
}

// writeError maps a domain error to its HTTP status and body. Unrecognized
// errors become an opaque 500 with the detail only in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal error"
	}
	respondError(w, status, msg)
}
