package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
)

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// topUpCredit starts a store-credit top-up payment. The balance is credited
// only when the payment is confirmed, via the same /payments/confirm endpoint.
func (h *Handler) topUpCredit(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req topUpRequest
	if !decode(w, r, &req) {
		return
	}

	method := order.PaymentMethod(req.Method)
	if req.Method == "" {
		method = order.MethodNetsQR
	}

	init, err := h.reconciler.Initiate(r.Context(), payment.InitiateRequest{
		UserID: uid,
		Kind:   payment.KindTopUp,
		Method: method,
		Amount: req.Amount,
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

type creditResponse struct {
	Balance decimal.Decimal     `json:"balance"`
	History []transactionOutput `json:"history"`
}

type transactionOutput struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (h *Handler) getCredit(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	balance, err := h.credit.Balance(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.credit.History(r.Context(), uid, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := creditResponse{Balance: balance, History: make([]transactionOutput, len(history))}
	for i, t := range history {
		resp.History[i] = transactionOutput{
			ID:        t.ID,
			Amount:    t.Amount,
			Type:      string(t.Type),
			Reference: t.Reference,
			CreatedAt: t.CreatedAt,
		}
	}
	respond(w, http.StatusOK, resp)
}
