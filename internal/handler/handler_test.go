package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
	"github.com/xenking/freshmart-checkout/internal/domain/refund"
	"github.com/xenking/freshmart-checkout/internal/gateway"
)

// --- In-memory fakes ---

type memOrders struct {
	byID      map[string]*order.Order
	createErr error
}

func newMemOrders() *memOrders {
	return &memOrders{byID: make(map[string]*order.Order)}
}

func (m *memOrders) Create(_ context.Context, o *order.Order, _ order.CreateOptions) error {
	if m.createErr != nil {
		return m.createErr
	}
	o.CreatedAt = time.Now()
	clone := *o
	m.byID[o.ID] = &clone
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	clone := *o
	return &clone, nil
}

func (m *memOrders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) ListAll(_ context.Context) ([]order.Order, error) {
	var out []order.Order
	for _, o := range m.byID {
		out = append(out, *o)
	}
	return out, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusChanged
	}
	o.Status = to
	return nil
}

func (m *memOrders) UpdatePaymentMeta(_ context.Context, id string, meta order.PaymentMeta) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if meta.RefundRef != nil {
		o.RefundRef = *meta.RefundRef
	}
	if meta.PaymentRef != nil {
		o.PaymentRef = *meta.PaymentRef
	}
	return nil
}

func (m *memOrders) CancelForUser(_ context.Context, userID string) (int64, error) {
	var n int64
	for _, o := range m.byID {
		if o.UserID != userID {
			continue
		}
		switch o.Status {
		case order.StatusProcessing, order.StatusPacking, order.StatusOutForDelivery, order.StatusFailedPayment:
			o.Status = order.StatusCancelled
			n++
		}
	}
	return n, nil
}

type memLedger struct {
	balances map[string]decimal.Decimal
	history  []credit.Transaction
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[string]decimal.Decimal)}
}

func (m *memLedger) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	b, ok := m.balances[userID]
	if !ok {
		return decimal.Zero, credit.ErrUserNotFound
	}
	return b, nil
}

func (m *memLedger) Credit(_ context.Context, userID string, amount decimal.Decimal, typ credit.TxnType, reference string) (decimal.Decimal, error) {
	m.balances[userID] = m.balances[userID].Add(amount)
	m.history = append(m.history, credit.Transaction{
		ID:        int64(len(m.history) + 1),
		UserID:    userID,
		Amount:    amount,
		Type:      typ,
		Reference: reference,
		CreatedAt: time.Now(),
	})
	return m.balances[userID], nil
}

func (m *memLedger) History(_ context.Context, userID string, _ int) ([]credit.Transaction, error) {
	var out []credit.Transaction
	for _, t := range m.history {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

type memPending struct {
	byToken map[string]*payment.PendingPayment
}

func newMemPending() *memPending {
	return &memPending{byToken: make(map[string]*payment.PendingPayment)}
}

func (m *memPending) Create(_ context.Context, p *payment.PendingPayment) error {
	m.byToken[p.Token] = p
	return nil
}

func (m *memPending) Get(_ context.Context, token string) (*payment.PendingPayment, error) {
	p, ok := m.byToken[token]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

func (m *memPending) UpdateLastCode(_ context.Context, token, code string) error {
	if p, ok := m.byToken[token]; ok {
		p.LastCode = code
	}
	return nil
}

func (m *memPending) MarkFailed(_ context.Context, token, code string) error {
	p, ok := m.byToken[token]
	if !ok {
		return payment.ErrNotFound
	}
	if p.Status == payment.StatusSuccess {
		return payment.ErrAlreadyResolved
	}
	p.Status = payment.StatusFailed
	p.LastCode = code
	return nil
}

func (m *memPending) ResolveTopUp(_ context.Context, token, _ string) (decimal.Decimal, bool, error) {
	p, ok := m.byToken[token]
	if !ok {
		return decimal.Zero, false, payment.ErrNotFound
	}
	if p.Status != payment.StatusPending {
		return p.Amount, true, nil
	}
	p.Status = payment.StatusSuccess
	return p.Amount, false, nil
}

// --- Test server ---

type testEnv struct {
	orders  *memOrders
	ledger  *memLedger
	pending *memPending
	srv     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orders := newMemOrders()
	ledger := newMemLedger()
	pending := newMemPending()

	orderSvc := order.NewService(orders)
	creditSvc := credit.NewService(ledger)
	registry := gateway.NewRegistry(gateway.StoreCredit{})
	reconciler := payment.NewReconciler(pending, orderSvc, registry, nil)
	refundSvc := refund.NewService(orders, creditSvc, registry, nil)

	h := NewHandler(orderSvc, creditSvc, reconciler, refundSvc)
	r := chi.NewRouter()
	r.Route("/api", h.Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{orders: orders, ledger: ledger, pending: pending, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// --- Tests ---

func TestCheckout_RequiresUser(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/checkout", "", `{"items":[],"method":"cash"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body["error"], "X-User-ID")
}

func TestCheckout_CashOrder(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/checkout", "alice", `{
		"items": [{"productId": "p1", "quantity": 2, "unitPrice": "3.80"}],
		"method": "cash"
	}`)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Processing", body["status"])
	total := decimal.RequireFromString(body["total"].(string))
	assert.True(t, decimal.RequireFromString("7.60").Equal(total))
	assert.True(t, strings.HasPrefix(body["invoiceNumber"].(string), "INV-"))
	assert.Len(t, env.orders.byID, 1)
}

func TestCheckout_UnknownMethod(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/checkout", "alice", `{
		"items": [{"productId": "p1", "quantity": 1, "unitPrice": "1.00"}],
		"method": "nets_qr"
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckout_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	env.orders.createErr = &order.InsufficientStockError{ProductID: "p1"}

	resp, body := env.do(t, http.MethodPost, "/api/checkout", "alice", `{
		"items": [{"productId": "p1", "quantity": 5, "unitPrice": "2.00"}],
		"method": "cash"
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["error"], "insufficient stock")
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/checkout", "alice", `{"items":[],"method":"cash"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirm_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/payments/confirm", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirm_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/payments/confirm", "alice", `{"correlationToken":"nope"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrder_OwnershipHidden(t *testing.T) {
	env := newTestEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "alice", Status: order.StatusProcessing}

	resp, _ := env.do(t, http.MethodGet, "/api/orders/o1", "bob", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/orders/o1", "alice", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "o1", body["id"])
}

func TestGetCredit(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.balances["alice"] = decimal.RequireFromString("50.00")
	_, err := env.ledger.Credit(context.Background(), "alice", decimal.RequireFromString("10.00"), credit.TypeTopUp, "txn-1")
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/api/credit", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decimal.RequireFromString(body["balance"].(string))
	assert.True(t, decimal.RequireFromString("60.00").Equal(balance))
	history := body["history"].([]any)
	require.Len(t, history, 1)
}

func TestRefundFlow(t *testing.T) {
	env := newTestEnv(t)
	env.orders.byID["o1"] = &order.Order{
		ID:            "o1",
		InvoiceNumber: "INV-1",
		UserID:        "alice",
		Status:        order.StatusCompleted,
		Total:         decimal.RequireFromString("20.00"),
		PaymentMethod: order.MethodStoreCredit,
	}
	env.ledger.balances["alice"] = decimal.Zero

	resp, body := env.do(t, http.MethodPost, "/api/orders/o1/refund", "alice", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	// A second request conflicts.
	resp, _ = env.do(t, http.MethodPost, "/api/orders/o1/refund", "alice", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/admin/orders/o1/refund-decision", "admin", `{"approve":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Refunded", body["status"])
	assert.True(t, decimal.RequireFromString("20.00").Equal(env.ledger.balances["alice"]))
}

func TestAdminListOrders(t *testing.T) {
	env := newTestEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "alice", Status: order.StatusProcessing}
	env.orders.byID["o2"] = &order.Order{ID: "o2", UserID: "bob", Status: order.StatusCompleted}

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/admin/orders", nil)
	require.NoError(t, err)
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestAdminCancelUserOrders(t *testing.T) {
	env := newTestEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "alice", Status: order.StatusProcessing}
	env.orders.byID["o2"] = &order.Order{ID: "o2", UserID: "alice", Status: order.StatusCompleted}
	env.orders.byID["o3"] = &order.Order{ID: "o3", UserID: "bob", Status: order.StatusPacking}

	resp, body := env.do(t, http.MethodPost, "/api/admin/users/alice/cancel-orders", "admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["cancelled"])

	assert.Equal(t, order.StatusCancelled, env.orders.byID["o1"].Status)
	assert.Equal(t, order.StatusCompleted, env.orders.byID["o2"].Status)
	assert.Equal(t, order.StatusPacking, env.orders.byID["o3"].Status)
}

func TestAdminStatusTransition(t *testing.T) {
	env := newTestEnv(t)
	env.orders.byID["o1"] = &order.Order{ID: "o1", UserID: "alice", Status: order.StatusProcessing}

	resp, _ := env.do(t, http.MethodPost, "/api/admin/orders/o1/status", "admin", `{"status":"Completed"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/admin/orders/o1/status", "admin", `{"status":"Packing"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Packing", body["status"])
	assert.Equal(t, order.StatusPacking, env.orders.byID["o1"].Status)
}
