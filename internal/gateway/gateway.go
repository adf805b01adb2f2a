// Package gateway defines the uniform initiate/confirm/refund contract every
// payment method implements, plus the concrete adapters. Adapters report raw
// gateway response codes; classifying them into the payment state machine is
// the reconciler's job, not theirs.
package gateway

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
)

// ErrUnknownMethod is returned when no gateway is registered for a payment
// method, either because the method name is bogus or the adapter was not
// configured at startup.
var ErrUnknownMethod = errors.New("unknown or unconfigured payment method")

// InitiateRequest starts a payment attempt for a given amount.
type InitiateRequest struct {
	UserID      string
	Amount      decimal.Decimal
	Description string
}

// Initiation is the gateway-specific client payload for a started payment.
// Exactly one of RedirectURL / QRCodeBase64 is set for redirect and QR
// gateways; both are empty for store credit.
type Initiation struct {
	// ExternalRef is the gateway-side reference (session id, transaction
	// retrieval ref) used for all later Confirm calls.
	ExternalRef  string
	RedirectURL  string
	QRCodeBase64 string
}

// Confirmation is the raw outcome of querying a payment's status.
type Confirmation struct {
	// Code is the gateway response code (NETS-style: "00", "09", "99", ...).
	Code string
	// Approved is the positive transaction-status flag. A payment is only
	// successful when Code is "00" AND Approved is set.
	Approved bool
	Message  string
	// PaymentRef is the settled payment reference to store on the order.
	PaymentRef string
}

// Gateway is the contract each payment method implements.
type Gateway interface {
	Method() order.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	Confirm(ctx context.Context, externalRef string) (*Confirmation, error)
	// Refund reverses a settled payment, returning the gateway refund
	// reference.
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) (string, error)
}

// Error wraps a failure while talking to a payment provider. The core never
// retries these; bounded retry is the caller's concern.
type Error struct {
	Method order.PaymentMethod
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s gateway: %s: %v", e.Method, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry resolves gateways by payment method.
type Registry struct {
	byMethod map[order.PaymentMethod]Gateway
}

// NewRegistry builds a registry from the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{byMethod: make(map[order.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.byMethod[g.Method()] = g
	}
	return r
}

// Lookup returns the gateway for a method, or an error for unknown methods.
func (r *Registry) Lookup(method order.PaymentMethod) (Gateway, error) {
	g, ok := r.byMethod[method]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "%q", method)
	}
	return g, nil
}
