package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
)

const (
	balanceSQL = `SELECT store_credit FROM users WHERE id = $1`

	historySQL = `SELECT id, user_id, amount, type, reference, created_at
		FROM store_credit_transactions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
)

var _ credit.Ledger = (*CreditLedger)(nil)

// CreditLedger implements credit.Ledger backed by PostgreSQL.
type CreditLedger struct {
	pool *pgxpool.Pool
}

// NewCreditLedger returns a CreditLedger using the given pool.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedger {
	return &CreditLedger{pool: pool}
}

// Balance returns the current store-credit balance of a user.
func (l *CreditLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.pool.QueryRow(ctx, balanceSQL, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, credit.ErrUserNotFound
		}
		return decimal.Zero, errors.Wrap(err, "reading balance")
	}
	return balance, nil
}

// Credit adds amount to the balance and appends the ledger entry in one
// transaction, returning the new balance.
func (l *CreditLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, typ credit.TxnType, reference string) (decimal.Decimal, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, creditBalanceSQL, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, credit.ErrUserNotFound
		}
		return decimal.Zero, errors.Wrap(err, "crediting balance")
	}
	if _, err := tx.Exec(ctx, insertLedgerSQL, userID, amount, string(typ), reference); err != nil {
		return decimal.Zero, errors.Wrap(err, "recording ledger entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, errors.Wrap(err, "commit transaction")
	}
	return balance, nil
}

// History returns the most recent ledger entries of a user, newest first.
func (l *CreditLedger) History(ctx context.Context, userID string, limit int) ([]credit.Transaction, error) {
	rows, err := l.pool.Query(ctx, historySQL, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing ledger entries")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (credit.Transaction, error) {
		var (
			t   credit.Transaction
			typ string
		)
		err := row.Scan(&t.ID, &t.UserID, &t.Amount, &typ, &t.Reference, &t.CreatedAt)
		t.Type = credit.TxnType(typ)
		return t, err
	})
}
