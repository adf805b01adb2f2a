package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	UserID        string
	Items         []Item
	Total         decimal.Decimal // optional; verified against the item sum when set
	Tax           decimal.Decimal
	InvoiceNumber string // generated when empty
	PaymentMethod PaymentMethod
}

// Service is the order ledger: it validates carts, prices them with decimal
// arithmetic, and hands the result to the repository for an atomic commit
// that includes the conditional inventory decrement.
type Service struct {
	orders Repository
	now    func() time.Time
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository) *Service {
	return &Service{
		orders: orders,
		now:    time.Now,
	}
}

// CreateOrder validates the cart, computes subtotals and total, and persists
// the order atomically with the stock decrement. No order exists without full
// inventory backing.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	return s.create(ctx, req, CreateOptions{})
}

// CreateOrderWithStoreCredit is CreateOrder with the user's store-credit
// balance verified and debited inside the same transaction. The balance row
// is read under an exclusive lock, so a concurrent checkout cannot observe a
// stale balance.
func (s *Service) CreateOrderWithStoreCredit(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	req.PaymentMethod = MethodStoreCredit
	return s.create(ctx, req, CreateOptions{DebitStoreCredit: true})
}

// CreateOrderResolving creates the order and claims the pending payment with
// the given correlation token in one transaction. Used by the payment
// reconciler; returns ErrTokenResolved when another confirmation won the race.
func (s *Service) CreateOrderResolving(ctx context.Context, req CreateOrderRequest, token string) (*Order, error) {
	return s.create(ctx, req, CreateOptions{
		ResolveToken:     token,
		DebitStoreCredit: req.PaymentMethod == MethodStoreCredit,
	})
}

func (s *Service) create(ctx context.Context, req CreateOrderRequest, opts CreateOptions) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if req.Tax.IsNegative() {
		return nil, ErrNegativeAmount
	}

	items := make([]Item, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		if item.UnitPrice.IsNegative() {
			return nil, ErrNegativeAmount
		}
		subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		items[i] = Item{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  subtotal,
		}
		total = total.Add(subtotal)
	}
	total = total.Round(2)

	// Clients may echo a total for display; it must agree with the item sum.
	if !req.Total.IsZero() && !req.Total.Round(2).Equal(total) {
		return nil, ErrTotalMismatch
	}

	invoice := req.InvoiceNumber
	if invoice == "" {
		invoice = s.invoiceNumber()
	}

	o := &Order{
		ID:            uuid.New().String(),
		InvoiceNumber: invoice,
		UserID:        req.UserID,
		Status:        StatusProcessing,
		Total:         total,
		Tax:           req.Tax,
		PaymentMethod: req.PaymentMethod,
		Items:         items,
	}
	if err := s.orders.Create(ctx, o, opts); err != nil {
		// Typed repository errors pass through untouched so callers can map them.
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) || errors.Is(err, ErrTokenResolved) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}

	return o, nil
}

// UpdatePaymentMeta attaches payment metadata to an existing order. It is
// best-effort and never participates in the creation transaction.
func (s *Service) UpdatePaymentMeta(ctx context.Context, orderID string, meta PaymentMeta) error {
	if meta.PaymentMethod == nil && meta.PaymentRef == nil && meta.RefundRef == nil {
		return nil
	}
	if err := s.orders.UpdatePaymentMeta(ctx, orderID, meta); err != nil {
		return errors.Wrapf(err, "update payment meta for order %s", orderID)
	}
	return nil
}

// GetForUser returns an order only if it belongs to the given user.
func (s *Service) GetForUser(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns all orders of a user, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

// ListAll returns every order, newest first. Admin surface only.
func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.orders.ListAll(ctx)
}

// UpdateStatus performs an admin fulfilment transition after validating it
// against the lifecycle graph.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	return s.orders.UpdateStatus(ctx, orderID, o.Status, to)
}

// CancelForUser cancels all in-flight orders of a user. Used when an account
// is removed.
func (s *Service) CancelForUser(ctx context.Context, userID string) (int64, error) {
	return s.orders.CancelForUser(ctx, userID)
}

func (s *Service) invoiceNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", s.now().Format("20060102"), suffix)
}
