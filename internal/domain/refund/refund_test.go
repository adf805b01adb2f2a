package refund

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/gateway"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID map[string]*order.Order
}

func (m *mockOrderRepo) Create(_ context.Context, _ *order.Order, _ order.CreateOptions) error {
	return errors.New("not used")
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) ListByUser(_ context.Context, _ string) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) ListAll(_ context.Context) ([]order.Order, error) { return nil, nil }

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
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

func (m *mockOrderRepo) UpdatePaymentMeta(_ context.Context, id string, meta order.PaymentMeta) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if meta.RefundRef != nil {
		o.RefundRef = *meta.RefundRef
	}
	return nil
}

func (m *mockOrderRepo) CancelForUser(_ context.Context, _ string) (int64, error) { return 0, nil }

type mockCreditLedger struct {
	refunded  decimal.Decimal
	reference string
	err       error
}

func (m *mockCreditLedger) Refund(_ context.Context, _ string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	m.refunded = m.refunded.Add(amount)
	m.reference = reference
	return m.refunded, nil
}

type mockRefundGateway struct {
	method    order.PaymentMethod
	refundRef string
	err       error
	calls     int
}

func (m *mockRefundGateway) Method() order.PaymentMethod { return m.method }

func (m *mockRefundGateway) Initiate(_ context.Context, _ gateway.InitiateRequest) (*gateway.Initiation, error) {
	return nil, errors.New("not used")
}

func (m *mockRefundGateway) Confirm(_ context.Context, _ string) (*gateway.Confirmation, error) {
	return nil, errors.New("not used")
}

func (m *mockRefundGateway) Refund(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.refundRef, nil
}

type mockGateways struct{ gw gateway.Gateway }

func (m mockGateways) Lookup(method order.PaymentMethod) (gateway.Gateway, error) {
	if m.gw == nil || m.gw.Method() != method {
		return nil, errors.Errorf("no gateway for %q", method)
	}
	return m.gw, nil
}

// --- Helpers ---

func paidOrder(id string, method order.PaymentMethod, status order.Status) *order.Order {
	return &order.Order{
		ID:            id,
		InvoiceNumber: "INV-20260801-ABCD1234",
		UserID:        "alice",
		Status:        status,
		Total:         decimal.RequireFromString("42.00"),
		PaymentMethod: method,
		PaymentRef:    "pay-ref-1",
	}
}

func newServiceForTest(o *order.Order, credit *mockCreditLedger, gw gateway.Gateway) (*Service, *mockOrderRepo) {
	repo := &mockOrderRepo{byID: map[string]*order.Order{}}
	if o != nil {
		repo.byID[o.ID] = o
	}
	return NewService(repo, credit, mockGateways{gw: gw}, nil), repo
}

// --- Tests ---

func TestRequest_UnknownOrder(t *testing.T) {
	svc, _ := newServiceForTest(nil, &mockCreditLedger{}, nil)

	err := svc.Request(context.Background(), "missing", "alice")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestRequest_WrongUser(t *testing.T) {
	o := paidOrder("o1", order.MethodNetsQR, order.StatusCompleted)
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, nil)

	err := svc.Request(context.Background(), "o1", "bob")
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, order.StatusCompleted, o.Status)
}

func TestRequest_CashNotRefundable(t *testing.T) {
	o := paidOrder("o1", order.MethodCash, order.StatusCompleted)
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, nil)

	err := svc.Request(context.Background(), "o1", "alice")
	require.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestRequest_AlreadyInProgress(t *testing.T) {
	for _, status := range []order.Status{order.StatusRefundRequested, order.StatusRefunded} {
		o := paidOrder("o1", order.MethodHosted, status)
		svc, _ := newServiceForTest(o, &mockCreditLedger{}, nil)

		err := svc.Request(context.Background(), "o1", "alice")
		require.ErrorIs(t, err, ErrAlreadyInProgress, "status %s", status)
	}
}

func TestRequest_RejectedIsTerminal(t *testing.T) {
	o := paidOrder("o1", order.MethodHosted, order.StatusRefundRejected)
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, nil)

	err := svc.Request(context.Background(), "o1", "alice")
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestRequest_MovesToRequested(t *testing.T) {
	o := paidOrder("o1", order.MethodNetsQR, order.StatusCompleted)
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, nil)

	require.NoError(t, svc.Request(context.Background(), "o1", "alice"))
	assert.Equal(t, order.StatusRefundRequested, o.Status)
}

func TestDecide_RequiresOpenRequest(t *testing.T) {
	o := paidOrder("o1", order.MethodHosted, order.StatusCompleted)
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, nil)

	_, err := svc.Decide(context.Background(), "o1", true)
	require.ErrorIs(t, err, ErrNotRequested)
}

func TestDecide_RejectMovesNoMoney(t *testing.T) {
	o := paidOrder("o1", order.MethodHosted, order.StatusRefundRequested)
	credit := &mockCreditLedger{}
	gw := &mockRefundGateway{method: order.MethodHosted, refundRef: "re-1"}
	svc, _ := newServiceForTest(o, credit, gw)

	status, err := svc.Decide(context.Background(), "o1", false)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefundRejected, status)
	assert.Equal(t, order.StatusRefundRejected, o.Status)
	assert.Zero(t, gw.calls)
	assert.True(t, credit.refunded.IsZero())
}

func TestDecide_ApproveGatewayRefund(t *testing.T) {
	o := paidOrder("o1", order.MethodNetsQR, order.StatusRefundRequested)
	gw := &mockRefundGateway{method: order.MethodNetsQR, refundRef: "rev-77"}
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, gw)

	status, err := svc.Decide(context.Background(), "o1", true)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, status)
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, "rev-77", o.RefundRef)
	assert.Equal(t, 1, gw.calls)
}

func TestDecide_ApproveStoreCreditRefund(t *testing.T) {
	o := paidOrder("o1", order.MethodStoreCredit, order.StatusRefundRequested)
	credit := &mockCreditLedger{}
	svc, _ := newServiceForTest(o, credit, nil)

	status, err := svc.Decide(context.Background(), "o1", true)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, status)
	assert.True(t, decimal.RequireFromString("42.00").Equal(credit.refunded))
	assert.Equal(t, "refund:INV-20260801-ABCD1234", credit.reference)
	assert.Equal(t, credit.reference, o.RefundRef)
}

func TestDecide_GatewayFailureLeavesRequestOpen(t *testing.T) {
	o := paidOrder("o1", order.MethodHosted, order.StatusRefundRequested)
	gw := &mockRefundGateway{method: order.MethodHosted, err: errors.New("provider unavailable")}
	svc, _ := newServiceForTest(o, &mockCreditLedger{}, gw)

	_, err := svc.Decide(context.Background(), "o1", true)
	require.Error(t, err)
	assert.Equal(t, order.StatusRefundRequested, o.Status)
	assert.Empty(t, o.RefundRef)
}

func TestDecide_LedgerFailureLeavesRequestOpen(t *testing.T) {
	o := paidOrder("o1", order.MethodStoreCredit, order.StatusRefundRequested)
	credit := &mockCreditLedger{err: errors.New("user not found")}
	svc, _ := newServiceForTest(o, credit, nil)

	_, err := svc.Decide(context.Background(), "o1", true)
	require.Error(t, err)
	assert.Equal(t, order.StatusRefundRequested, o.Status)
}
