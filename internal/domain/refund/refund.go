// Package refund implements the request/approve/reject lifecycle layered on
// top of the order ledger. Requests come from the order's owner; decisions
// come from admins (authorization for which sits outside this core).
package refund

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/gateway"
)

var (
	ErrForbidden         = errors.New("order belongs to another user")
	ErrUnsupportedMethod = errors.New("refunds are only available for hosted, NETS QR, or store credit orders")
	ErrAlreadyInProgress = errors.New("refund already requested or processed")
	// ErrAlreadyDecided marks a rejected refund request as terminal; whether
	// a fresh request may be opened later is a product decision.
	ErrAlreadyDecided = errors.New("refund request was already rejected")
	ErrNotRequested   = errors.New("order has no pending refund request")
)

// refundable is the set of payment methods with a reversal path.
var refundable = map[order.PaymentMethod]bool{
	order.MethodHosted:      true,
	order.MethodNetsQR:      true,
	order.MethodStoreCredit: true,
}

// CreditLedger is the slice of the store-credit service used for
// credit-back reversals.
type CreditLedger interface {
	Refund(ctx context.Context, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error)
}

// Gateways resolves a payment method to its gateway adapter.
type Gateways interface {
	Lookup(method order.PaymentMethod) (gateway.Gateway, error)
}

// Service runs the refund workflow.
type Service struct {
	orders   order.Repository
	credit   CreditLedger
	gateways Gateways
	lg       *zap.Logger
}

// NewService creates a refund Service.
func NewService(orders order.Repository, credit CreditLedger, gateways Gateways, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		orders:   orders,
		credit:   credit,
		gateways: gateways,
		lg:       lg,
	}
}

// Request opens a refund request on behalf of the order's owner.
func (s *Service) Request(ctx context.Context, orderID, userID string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != userID {
		return ErrForbidden
	}
	if !refundable[o.PaymentMethod] {
		return ErrUnsupportedMethod
	}
	switch o.Status {
	case order.StatusRefundRequested, order.StatusRefunded:
		return ErrAlreadyInProgress
	case order.StatusRefundRejected:
		return ErrAlreadyDecided
	}
	if !order.CanTransition(o.Status, order.StatusRefundRequested) {
		return &order.InvalidTransitionError{From: o.Status, To: order.StatusRefundRequested}
	}

	if err := s.orders.UpdateStatus(ctx, orderID, o.Status, order.StatusRefundRequested); err != nil {
		return err
	}

	s.lg.Info("refund requested",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
	)
	return nil
}

// Decide approves or rejects a pending refund request. Approval triggers the
// gateway-specific reversal first; the order only transitions to Refunded
// after the money actually moved. A reversal failure leaves the request open.
func (s *Service) Decide(ctx context.Context, orderID string, approve bool) (order.Status, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o.Status != order.StatusRefundRequested {
		return "", ErrNotRequested
	}

	if !approve {
		if err := s.orders.UpdateStatus(ctx, orderID, order.StatusRefundRequested, order.StatusRefundRejected); err != nil {
			return "", err
		}
		s.lg.Info("refund rejected", zap.String("order_id", orderID))
		return order.StatusRefundRejected, nil
	}

	refundRef, err := s.reverse(ctx, o)
	if err != nil {
		// No state mutation: the request stays open for a retry or rejection.
		return "", err
	}

	if err := s.orders.UpdateStatus(ctx, orderID, order.StatusRefundRequested, order.StatusRefunded); err != nil {
		return "", err
	}
	if err := s.orders.UpdatePaymentMeta(ctx, orderID, order.PaymentMeta{RefundRef: &refundRef}); err != nil {
		s.lg.Warn("attach refund ref", zap.String("order_id", orderID), zap.Error(err))
	}

	s.lg.Info("refund approved",
		zap.String("order_id", orderID),
		zap.String("refund_ref", refundRef),
		zap.String("amount", o.Total.StringFixed(2)),
	)
	return order.StatusRefunded, nil
}

func (s *Service) reverse(ctx context.Context, o *order.Order) (string, error) {
	if o.PaymentMethod == order.MethodStoreCredit {
		reference := fmt.Sprintf("refund:%s", o.InvoiceNumber)
		if _, err := s.credit.Refund(ctx, o.UserID, o.Total, reference); err != nil {
			return "", err
		}
		return reference, nil
	}

	gw, err := s.gateways.Lookup(o.PaymentMethod)
	if err != nil {
		return "", ErrUnsupportedMethod
	}
	return gw.Refund(ctx, o.PaymentRef, o.Total)
}
