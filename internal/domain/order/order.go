package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order. Orders are never deleted, only
// transitioned along the graph in validNext.
type Status string

const (
	StatusProcessing      Status = "Processing"
	StatusPacking         Status = "Packing"
	StatusReadyForPickup  Status = "ReadyForPickup"
	StatusOutForDelivery  Status = "OutForDelivery"
	StatusCompleted       Status = "Completed"
	StatusCancelled       Status = "Cancelled"
	StatusFailedPayment   Status = "FailedPayment"
	StatusRefundRequested Status = "RefundRequested"
	StatusRefundRejected  Status = "RefundRejected"
	StatusRefunded        Status = "Refunded"
)

// validNext encodes the allowed status transitions. RefundRejected is terminal
// for that refund request; whether a later re-request is allowed is a product
// decision and not part of the status graph.
var validNext = map[Status]map[Status]bool{
	StatusProcessing: {
		StatusPacking:         true,
		StatusCancelled:       true,
		StatusFailedPayment:   true,
		StatusRefundRequested: true,
	},
	StatusPacking: {
		StatusReadyForPickup:  true,
		StatusOutForDelivery:  true,
		StatusCancelled:       true,
		StatusRefundRequested: true,
	},
	StatusReadyForPickup: {
		StatusCompleted:       true,
		StatusRefundRequested: true,
	},
	StatusOutForDelivery: {
		StatusCompleted:       true,
		StatusRefundRequested: true,
	},
	StatusCompleted: {
		StatusRefundRequested: true,
	},
	StatusCancelled:     {},
	StatusFailedPayment: {StatusCancelled: true},
	StatusRefundRequested: {
		StatusRefunded:       true,
		StatusRefundRejected: true,
	},
	StatusRefundRejected: {},
	StatusRefunded:       {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// PaymentMethod identifies how an order was (or will be) paid.
type PaymentMethod string

const (
	MethodStoreCredit PaymentMethod = "store_credit"
	MethodHosted      PaymentMethod = "hosted"
	MethodNetsQR      PaymentMethod = "nets_qr"
	MethodCash        PaymentMethod = "cash"
)

// Order is a durable record of a priced checkout. Total always equals the sum
// of item subtotals at creation time; payment metadata is attached afterwards
// and never affects the total.
type Order struct {
	ID            string
	InvoiceNumber string
	UserID        string
	Status        Status
	Total         decimal.Decimal
	Tax           decimal.Decimal
	PaymentMethod PaymentMethod
	PaymentRef    string
	RefundRef     string
	Items         []Item
	CreatedAt     time.Time
}

// Item is a single priced line of an order.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// PaymentMeta carries optional payment metadata. Nil fields are left
// untouched by UpdatePaymentMeta.
type PaymentMeta struct {
	PaymentMethod *PaymentMethod
	PaymentRef    *string
	RefundRef     *string
}

// CreateOptions controls what else happens inside the order-creation
// transaction.
type CreateOptions struct {
	// DebitStoreCredit locks the user's balance row, verifies it covers the
	// order total, debits it, and appends a ledger entry, all in the same
	// transaction as the order insert.
	DebitStoreCredit bool

	// ResolveToken, when set, claims the pending payment with that correlation
	// token inside the same transaction (resolved_order_id is set only while
	// still unset). If another confirmation already claimed the token, Create
	// returns ErrTokenResolved and nothing is committed.
	ResolveToken string
}

// Repository defines persistence operations for orders.
//
// Create is all-or-nothing: the order row, item rows, conditional stock
// decrements, and (optionally) the store-credit debit and pending-payment
// claim commit together or not at all.
type Repository interface {
	Create(ctx context.Context, o *Order, opts CreateOptions) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	// UpdateStatus moves the order from exactly the given status to the new
	// one. A concurrent change of the from-status makes it fail with
	// ErrStatusChanged.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	UpdatePaymentMeta(ctx context.Context, id string, meta PaymentMeta) error
	// CancelForUser bulk-cancels a user's in-flight orders, returning how
	// many were affected.
	CancelForUser(ctx context.Context, userID string) (int64, error)
}
