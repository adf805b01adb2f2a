// Package credit implements the store-credit ledger: a prepaid wallet
// balance per user with an append-only transaction log. Debits happen only
// inside the order-creation transaction (see the order repository); top-ups
// and refund credit-backs go through the Service here.
package credit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// TxnType classifies a ledger entry.
type TxnType string

const (
	TypeTopUp  TxnType = "topup"
	TypeDebit  TxnType = "debit"
	TypeRefund TxnType = "refund"
)

var (
	// ErrInsufficientBalance is returned when a debit would drive the balance
	// negative. The enclosing transaction aborts before any write.
	ErrInsufficientBalance = errors.New("insufficient store credit balance")

	ErrInvalidAmount = errors.New("amount must be greater than 0")
	ErrUserNotFound  = errors.New("user not found")
)

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID        int64
	UserID    string
	Amount    decimal.Decimal
	Type      TxnType
	Reference string
	CreatedAt time.Time
}

// Ledger defines persistence operations for store credit.
type Ledger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	// Credit adds amount to the balance and appends a log entry in one
	// transaction, returning the new balance.
	Credit(ctx context.Context, userID string, amount decimal.Decimal, typ TxnType, reference string) (decimal.Decimal, error)
	History(ctx context.Context, userID string, limit int) ([]Transaction, error)
}

// Service validates ledger operations before delegating to the store.
type Service struct {
	ledger Ledger
}

// NewService creates a credit Service backed by the given ledger.
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// Balance returns the user's current store-credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, userID)
}

// TopUp credits the balance after a confirmed top-up payment. The reference
// is the gateway transaction reference, so repeated confirmations of the same
// payment can be traced in the log.
func (s *Service) TopUp(ctx context.Context, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	balance, err := s.ledger.Credit(ctx, userID, amount, TypeTopUp, reference)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "top up store credit")
	}
	return balance, nil
}

// Refund credits an order total back to the user's balance when an admin
// approves a store-credit refund.
func (s *Service) Refund(ctx context.Context, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	balance, err := s.ledger.Credit(ctx, userID, amount, TypeRefund, reference)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "refund store credit")
	}
	return balance, nil
}

// History returns the most recent ledger entries for a user, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.ledger.History(ctx, userID, limit)
}
