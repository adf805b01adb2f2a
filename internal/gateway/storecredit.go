package gateway

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/order"
)

// StoreCredit is the internal-wallet gateway. There is nothing external to
// talk to: initiation just mints a reference, and confirmation is always
// approved because the actual debit happens inside the order-creation
// transaction and fails there if the balance is short.
type StoreCredit struct{}

var _ Gateway = StoreCredit{}

func (StoreCredit) Method() order.PaymentMethod { return order.MethodStoreCredit }

func (StoreCredit) Initiate(_ context.Context, req InitiateRequest) (*Initiation, error) {
	if !req.Amount.IsPositive() {
		return nil, &Error{Method: order.MethodStoreCredit, Op: "initiate", Err: errors.New("amount must be positive")}
	}
	return &Initiation{ExternalRef: "credit-" + uuid.New().String()}, nil
}

func (StoreCredit) Confirm(_ context.Context, externalRef string) (*Confirmation, error) {
	return &Confirmation{
		Code:       "00",
		Approved:   true,
		PaymentRef: externalRef,
	}, nil
}

// Refund is never routed here: store-credit reversals are ledger credits
// performed by the refund workflow directly.
func (StoreCredit) Refund(_ context.Context, _ string, _ decimal.Decimal) (string, error) {
	return "", errors.New("store credit refunds are ledger operations")
}
