// Package payment implements the reconciliation state machine between
// gateway confirmations and the order ledger. A PendingPayment is the durable
// record of one in-flight attempt, keyed by its correlation token; it either
// gets promoted to a resolved order (or credited top-up) exactly once, or
// marked FAILED.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
)

// Kind distinguishes what a successful payment resolves into.
type Kind string

const (
	KindCheckout Kind = "checkout"
	KindTopUp    Kind = "topup"
)

// GatewayStatus is the reconciliation state of a pending payment.
type GatewayStatus string

const (
	StatusPending GatewayStatus = "PENDING"
	StatusSuccess GatewayStatus = "SUCCESS"
	StatusFailed  GatewayStatus = "FAILED"
)

var (
	ErrNotFound     = errors.New("pending payment not found")
	ErrUnauthorized = errors.New("pending payment belongs to another user")
	ErrCartEmpty    = errors.New("cart is empty")
	// ErrAlreadyResolved reports that a concurrent confirmation settled the
	// payment successfully before it could be finalized as failed.
	ErrAlreadyResolved = errors.New("pending payment already resolved")
)

// PendingPayment is one checkout or top-up attempt awaiting confirmation.
// The cart is captured at initiate time so confirmation does not depend on
// any client session state.
type PendingPayment struct {
	Token           string
	UserID          string
	Kind            Kind
	Method          order.PaymentMethod
	Amount          decimal.Decimal
	Tax             decimal.Decimal
	Items           []order.Item
	ExternalRef     string
	Status          GatewayStatus
	LastCode        string
	ResolvedOrderID string
	StartedAt       time.Time
}

// Repository defines persistence for pending payments.
type Repository interface {
	Create(ctx context.Context, p *PendingPayment) error
	Get(ctx context.Context, token string) (*PendingPayment, error)
	// UpdateLastCode refreshes the last-seen gateway code on a still-pending
	// payment.
	UpdateLastCode(ctx context.Context, token, code string) error
	// MarkFailed finalizes a still-pending payment as FAILED. It returns
	// ErrAlreadyResolved when a concurrent confirmation already settled the
	// payment successfully; that outcome wins.
	MarkFailed(ctx context.Context, token, code string) error
	// ResolveTopUp claims the token and credits the user's store-credit
	// balance in one transaction. When the token was already claimed by a
	// concurrent confirmation it reports already=true and changes nothing.
	ResolveTopUp(ctx context.Context, token, code string) (balance decimal.Decimal, already bool, err error)
}
