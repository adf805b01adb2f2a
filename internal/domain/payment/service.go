package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/gateway"
)

// OrderLedger is the slice of the order service the reconciler needs.
type OrderLedger interface {
	CreateOrderResolving(ctx context.Context, req order.CreateOrderRequest, token string) (*order.Order, error)
	UpdatePaymentMeta(ctx context.Context, orderID string, meta order.PaymentMeta) error
}

// Gateways resolves a payment method to its gateway adapter.
type Gateways interface {
	Lookup(method order.PaymentMethod) (gateway.Gateway, error)
}

// InitiateRequest starts a payment attempt. For checkouts the amount is
// derived from the captured cart; for top-ups it is given directly.
type InitiateRequest struct {
	UserID string
	Kind   Kind
	Method order.PaymentMethod
	Items  []order.Item
	Tax    decimal.Decimal
	Amount decimal.Decimal
}

// Initiated is the client-facing result of starting a payment.
type Initiated struct {
	Token        string
	Amount       decimal.Decimal
	RedirectURL  string
	QRCodeBase64 string
}

// Result is the outcome of one confirm/poll call.
type Result struct {
	Status       GatewayStatus
	ResponseCode string
	Message      string
	OrderID      string
	Balance      decimal.Decimal
}

// Reconciler drives pending payments to resolution. Each Confirm call is one
// short unit of work; the client bounds how often it polls.
type Reconciler struct {
	pending  Repository
	orders   OrderLedger
	gateways Gateways
	lg       *zap.Logger
}

// NewReconciler creates a payment Reconciler.
func NewReconciler(pending Repository, orders OrderLedger, gateways Gateways, lg *zap.Logger) *Reconciler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Reconciler{
		pending:  pending,
		orders:   orders,
		gateways: gateways,
		lg:       lg,
	}
}

// Initiate starts a payment attempt: it asks the gateway for its client
// payload and captures the cart in a durable PendingPayment keyed by a fresh
// correlation token.
func (r *Reconciler) Initiate(ctx context.Context, req InitiateRequest) (*Initiated, error) {
	amount := req.Amount
	if req.Kind == KindCheckout {
		// A cart the order ledger would refuse must be rejected before any
		// money moves: confirmation re-runs the same checks and a payment
		// whose order can never be created would be stuck pending forever.
		if len(req.Items) == 0 {
			return nil, ErrCartEmpty
		}
		if req.Tax.IsNegative() {
			return nil, order.ErrNegativeAmount
		}
		amount = decimal.Zero
		for _, item := range req.Items {
			if item.Quantity <= 0 {
				return nil, &order.InvalidQuantityError{ProductID: item.ProductID}
			}
			if item.UnitPrice.IsNegative() {
				return nil, order.ErrNegativeAmount
			}
			amount = amount.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		amount = amount.Round(2)
	}
	if !amount.IsPositive() {
		return nil, errors.New("payment amount must be positive")
	}

	gw, err := r.gateways.Lookup(req.Method)
	if err != nil {
		return nil, err
	}

	init, err := gw.Initiate(ctx, gateway.InitiateRequest{
		UserID:      req.UserID,
		Amount:      amount,
		Description: string(req.Kind),
	})
	if err != nil {
		return nil, err
	}

	p := &PendingPayment{
		Token:       uuid.New().String(),
		UserID:      req.UserID,
		Kind:        req.Kind,
		Method:      req.Method,
		Amount:      amount,
		Tax:         req.Tax,
		Items:       req.Items,
		ExternalRef: init.ExternalRef,
		Status:      StatusPending,
		StartedAt:   time.Now(),
	}
	if err := r.pending.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "persist pending payment")
	}

	r.lg.Info("payment initiated",
		zap.String("token", p.Token),
		zap.String("method", string(p.Method)),
		zap.String("kind", string(p.Kind)),
		zap.String("amount", amount.StringFixed(2)),
	)

	return &Initiated{
		Token:        p.Token,
		Amount:       amount,
		RedirectURL:  init.RedirectURL,
		QRCodeBase64: init.QRCodeBase64,
	}, nil
}

// Confirm resolves one poll of a pending payment. Confirming an already
// resolved token returns the cached outcome without touching the gateway, so
// any number of polls creates at most one order (or one balance credit).
func (r *Reconciler) Confirm(ctx context.Context, token, userID string) (*Result, error) {
	p, err := r.pending.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrUnauthorized
	}

	switch p.Status {
	case StatusSuccess:
		return r.resolved(ctx, p)
	case StatusFailed:
		return &Result{
			Status:       StatusFailed,
			ResponseCode: p.LastCode,
			Message:      CodeMessage(p.LastCode),
		}, nil
	}

	if p.Kind == KindCheckout && len(p.Items) == 0 {
		return nil, ErrCartEmpty
	}

	gw, err := r.gateways.Lookup(p.Method)
	if err != nil {
		return nil, err
	}
	conf, err := gw.Confirm(ctx, p.ExternalRef)
	if err != nil {
		// Gateway trouble leaves the attempt pending; the client polls again.
		return nil, err
	}

	switch Classify(conf.Code, conf.Approved) {
	case OutcomePending:
		if err := r.pending.UpdateLastCode(ctx, token, conf.Code); err != nil {
			r.lg.Warn("refresh last code", zap.String("token", token), zap.Error(err))
		}
		return &Result{Status: StatusPending, ResponseCode: conf.Code}, nil

	case OutcomeFailed:
		if err := r.pending.MarkFailed(ctx, token, conf.Code); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				// A concurrent confirmation settled the payment while this
				// poll was talking to the gateway; report its outcome.
				return r.refetchResolved(ctx, token)
			}
			return nil, errors.Wrap(err, "mark pending payment failed")
		}
		r.lg.Info("payment failed",
			zap.String("token", token),
			zap.String("code", conf.Code),
		)
		return &Result{
			Status:       StatusFailed,
			ResponseCode: conf.Code,
			Message:      CodeMessage(conf.Code),
		}, nil
	}

	// Success.
	if p.Kind == KindTopUp {
		balance, already, err := r.pending.ResolveTopUp(ctx, token, conf.Code)
		if err != nil {
			return nil, errors.Wrap(err, "resolve top-up")
		}
		if !already {
			r.lg.Info("top-up credited",
				zap.String("token", token),
				zap.String("amount", p.Amount.StringFixed(2)),
			)
		}
		return &Result{Status: StatusSuccess, ResponseCode: conf.Code, Balance: balance}, nil
	}

	o, err := r.orders.CreateOrderResolving(ctx, order.CreateOrderRequest{
		UserID:        p.UserID,
		Items:         p.Items,
		Tax:           p.Tax,
		PaymentMethod: p.Method,
	}, token)
	if err != nil {
		if errors.Is(err, order.ErrTokenResolved) {
			// A concurrent confirmation committed first; surface its order.
			return r.refetchResolved(ctx, token)
		}
		return nil, err
	}

	paymentRef := conf.PaymentRef
	if paymentRef == "" {
		paymentRef = p.ExternalRef
	}
	if err := r.orders.UpdatePaymentMeta(ctx, o.ID, order.PaymentMeta{PaymentRef: &paymentRef}); err != nil {
		r.lg.Warn("attach payment ref", zap.String("order_id", o.ID), zap.Error(err))
	}

	r.lg.Info("payment reconciled",
		zap.String("token", token),
		zap.String("order_id", o.ID),
		zap.String("code", conf.Code),
	)

	return &Result{Status: StatusSuccess, ResponseCode: conf.Code, OrderID: o.ID}, nil
}

// resolved returns the cached outcome of an already successful payment.
func (r *Reconciler) resolved(ctx context.Context, p *PendingPayment) (*Result, error) {
	code := p.LastCode
	if code == "" {
		code = "00"
	}
	res := &Result{Status: StatusSuccess, ResponseCode: code, OrderID: p.ResolvedOrderID}
	if p.Kind == KindTopUp {
		balance, _, err := r.pending.ResolveTopUp(ctx, p.Token, code)
		if err != nil {
			return nil, errors.Wrap(err, "read top-up balance")
		}
		res.Balance = balance
	}
	return res, nil
}

func (r *Reconciler) refetchResolved(ctx context.Context, token string) (*Result, error) {
	p, err := r.pending.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return r.resolved(ctx, p)
}
