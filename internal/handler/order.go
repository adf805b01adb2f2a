package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
)

type checkoutRequest struct {
	Items  []itemInput     `json:"items"`
	Total  decimal.Decimal `json:"total"`
	Tax    decimal.Decimal `json:"tax"`
	Method string          `json:"method"`
}

type itemInput struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type orderResponse struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Status        string          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	Tax           decimal.Decimal `json:"tax"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentRef    string          `json:"paymentRef,omitempty"`
	RefundRef     string          `json:"refundRef,omitempty"`
	Items         []itemOutput    `json:"items,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type itemOutput struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		InvoiceNumber: o.InvoiceNumber,
		Status:        string(o.Status),
		Total:         o.Total,
		Tax:           o.Tax,
		PaymentMethod: string(o.PaymentMethod),
		PaymentRef:    o.PaymentRef,
		RefundRef:     o.RefundRef,
		CreatedAt:     o.CreatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, itemOutput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return resp
}

func toDomainItems(items []itemInput) []order.Item {
	out := make([]order.Item, len(items))
	for i, item := range items {
		out[i] = order.Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return out
}

// checkout creates an order with a synchronous payment method: store credit
// (verified and debited atomically) or cash on delivery. Asynchronous methods
// go through /payments/initiate instead.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}

	domainReq := order.CreateOrderRequest{
		UserID: uid,
		Items:  toDomainItems(req.Items),
		Total:  req.Total,
		Tax:    req.Tax,
	}

	var (
		o   *order.Order
		err error
	)
	switch order.PaymentMethod(req.Method) {
	case order.MethodStoreCredit:
		o, err = h.orders.CreateOrderWithStoreCredit(r.Context(), domainReq)
	case order.MethodCash:
		domainReq.PaymentMethod = order.MethodCash
		o, err = h.orders.CreateOrder(r.Context(), domainReq)
	default:
		respondError(w, http.StatusBadRequest, "method must be store_credit or cash; use /payments/initiate for others")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.orders.ListForUser(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(list))
	for i := range list {
		resp[i] = toOrderResponse(&list[i])
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	o, err := h.orders.GetForUser(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.refunds.Request(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"success": true})
}

type refundDecisionRequest struct {
	Approve bool `json:"approve"`
}

func (h *Handler) decideRefund(w http.ResponseWriter, r *http.Request) {
	var req refundDecisionRequest
	if !decode(w, r, &req) {
		return
	}

	status, err := h.refunds.Decide(r.Context(), chi.URLParam(r, "id"), req.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.orders.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]orderResponse, len(list))
	for i := range list {
		resp[i] = toOrderResponse(&list[i])
	}
	respond(w, http.StatusOK, resp)
}

// cancelUserOrders is the hook the account service calls when removing an
// account: every in-flight order of the user flips to Cancelled.
func (h *Handler) cancelUserOrders(w http.ResponseWriter, r *http.Request) {
	n, err := h.orders.CancelForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]int64{"cancelled": n})
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.Status(req.Status)); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": req.Status})
}
