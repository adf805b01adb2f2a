package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
)

type initiatePaymentRequest struct {
	Items  []itemInput     `json:"items"`
	Tax    decimal.Decimal `json:"tax"`
	Method string          `json:"method"`
}

type initiatedResponse struct {
	CorrelationToken string          `json:"correlationToken"`
	Amount           decimal.Decimal `json:"amount"`
	RedirectURL      string          `json:"redirectUrl,omitempty"`
	QRCode           string          `json:"qrCode,omitempty"`
}

// initiatePayment starts an asynchronous checkout payment. The cart is
// captured now; the client completes the flow by polling /payments/confirm
// with the returned correlation token.
func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req initiatePaymentRequest
	if !decode(w, r, &req) {
		return
	}

	init, err := h.reconciler.Initiate(r.Context(), payment.InitiateRequest{
		UserID: uid,
		Kind:   payment.KindCheckout,
		Method: order.PaymentMethod(req.Method),
		Items:  toDomainItems(req.Items),
		Tax:    req.Tax,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	respond(w, http.StatusCreated, initiatedResponse{
		CorrelationToken: init.Token,
		Amount:           init.Amount,
		RedirectURL:      init.RedirectURL,
		QRCode:           init.QRCodeBase64,
	})
}

type confirmPaymentRequest struct {
	CorrelationToken string `json:"correlationToken"`
}

type confirmPaymentResponse struct {
	Status       string           `json:"status"`
	ResponseCode string           `json:"responseCode"`
	Message      string           `json:"message,omitempty"`
	OrderID      string           `json:"orderId,omitempty"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
}

// confirmPayment resolves one poll of a pending payment. Safe to call any
// number of times for the same token.
func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CorrelationToken == "" {
		respondError(w, http.StatusBadRequest, "correlationToken is required")
		return
	}

	res, err := h.reconciler.Confirm(r.Context(), req.CorrelationToken, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := confirmPaymentResponse{
		Status:       statusWord(res.Status),
		ResponseCode: res.ResponseCode,
		Message:      res.Message,
		OrderID:      res.OrderID,
	}
	if !res.Balance.IsZero() {
		balance := res.Balance
		resp.Balance = &balance
	}
	respond(w, http.StatusOK, resp)
}

func statusWord(s payment.GatewayStatus) string {
	switch s {
	case payment.StatusSuccess:
		return "success"
	case payment.StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}
