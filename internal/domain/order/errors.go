package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation and persistence.
var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrNotFound       = errors.New("order not found")
	ErrStatusChanged  = errors.New("order status changed concurrently")
	ErrTokenResolved  = errors.New("correlation token already resolved")
	ErrTotalMismatch  = errors.New("total does not match sum of item subtotals")
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InsufficientStockError indicates a conditional stock decrement matched no
// rows: the product either does not exist or has fewer units than requested.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// InvalidTransitionError indicates a status change that the lifecycle graph
// does not allow.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}
