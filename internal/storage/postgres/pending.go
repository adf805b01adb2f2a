package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
)

const (
	insertPendingSQL = `INSERT INTO pending_payments
			(token, user_id, kind, method, amount, tax, items, external_ref, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	getPendingSQL = `SELECT token, user_id, kind, method, amount, tax, items,
			external_ref, status, last_code, COALESCE(resolved_order_id, ''), started_at
		FROM pending_payments WHERE token = $1`

	updateLastCodeSQL = `UPDATE pending_payments SET last_code = $2
		WHERE token = $1 AND status = 'PENDING'`

	markFailedSQL = `UPDATE pending_payments SET status = 'FAILED', last_code = $2, resolved_at = now()
		WHERE token = $1 AND status = 'PENDING'`

	claimTopUpSQL = `UPDATE pending_payments
		SET status = 'SUCCESS', last_code = $2, resolved_at = now()
		WHERE token = $1 AND status = 'PENDING'
		RETURNING user_id, amount, external_ref`

	pendingUserSQL = `SELECT user_id FROM pending_payments WHERE token = $1`

	pendingStatusSQL = `SELECT status FROM pending_payments WHERE token = $1`

	creditBalanceSQL = `UPDATE users SET store_credit = store_credit + $2
		WHERE id = $1 RETURNING store_credit`
)

var _ payment.Repository = (*PendingPaymentRepository)(nil)

// PendingPaymentRepository implements payment.Repository backed by PostgreSQL.
// The cart is stored as a JSONB snapshot so confirmation survives restarts and
// never depends on client session state.
type PendingPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPendingPaymentRepository returns a PendingPaymentRepository using the
// given pool.
func NewPendingPaymentRepository(pool *pgxpool.Pool) *PendingPaymentRepository {
	return &PendingPaymentRepository{pool: pool}
}

// Create persists a new pending payment.
func (r *PendingPaymentRepository) Create(ctx context.Context, p *payment.PendingPayment) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return errors.Wrap(err, "encoding cart snapshot")
	}
	_, err = r.pool.Exec(ctx, insertPendingSQL,
		p.Token, p.UserID, string(p.Kind), string(p.Method),
		p.Amount, p.Tax, items, p.ExternalRef, string(p.Status), p.StartedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "inserting pending payment %q", p.Token)
	}
	return nil
}

// Get returns the pending payment for a token.
func (r *PendingPaymentRepository) Get(ctx context.Context, token string) (*payment.PendingPayment, error) {
	var (
		p            payment.PendingPayment
		kind, method string
		status       string
		itemsJSON    []byte
	)
	err := r.pool.QueryRow(ctx, getPendingSQL, token).Scan(
		&p.Token, &p.UserID, &kind, &method, &p.Amount, &p.Tax, &itemsJSON,
		&p.ExternalRef, &status, &p.LastCode, &p.ResolvedOrderID, &p.StartedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting pending payment %q", token)
	}
	p.Kind = payment.Kind(kind)
	p.Method = order.PaymentMethod(method)
	p.Status = payment.GatewayStatus(status)
	if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
		return nil, errors.Wrap(err, "decoding cart snapshot")
	}
	return &p, nil
}

// UpdateLastCode records the most recent gateway code while the payment is
// still pending. Already resolved rows are left untouched.
func (r *PendingPaymentRepository) UpdateLastCode(ctx context.Context, token, code string) error {
	if _, err := r.pool.Exec(ctx, updateLastCodeSQL, token, code); err != nil {
		return errors.Wrapf(err, "updating last code of %q", token)
	}
	return nil
}

// MarkFailed finalizes a still-pending payment as FAILED. The conditional
// update never overwrites a concurrent SUCCESS; when it matches no row the
// row is re-read so the caller learns which resolution won.
func (r *PendingPaymentRepository) MarkFailed(ctx context.Context, token, code string) error {
	ct, err := r.pool.Exec(ctx, markFailedSQL, token, code)
	if err != nil {
		return errors.Wrapf(err, "marking %q failed", token)
	}
	if ct.RowsAffected() == 0 {
		var status string
		if err := r.pool.QueryRow(ctx, pendingStatusSQL, token).Scan(&status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return payment.ErrNotFound
			}
			return errors.Wrapf(err, "reading pending payment %q", token)
		}
		if status == string(payment.StatusSuccess) {
			return payment.ErrAlreadyResolved
		}
	}
	return nil
}

// ResolveTopUp claims a pending top-up and credits the balance in one
// transaction. The conditional claim makes the credit exactly-once: a second
// confirmation sees zero claimed rows and only reads the current balance.
func (r *PendingPaymentRepository) ResolveTopUp(ctx context.Context, token, code string) (decimal.Decimal, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, false, errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID      string
		amount      decimal.Decimal
		externalRef string
	)
	err = tx.QueryRow(ctx, claimTopUpSQL, token, code).Scan(&userID, &amount, &externalRef)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already claimed; report the balance as it stands.
		if err := tx.QueryRow(ctx, pendingUserSQL, token).Scan(&userID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return decimal.Zero, false, payment.ErrNotFound
			}
			return decimal.Zero, false, errors.Wrapf(err, "reading pending payment %q", token)
		}
		var balance decimal.Decimal
		if err := tx.QueryRow(ctx, `SELECT store_credit FROM users WHERE id = $1`, userID).Scan(&balance); err != nil {
			return decimal.Zero, false, errors.Wrap(err, "reading balance")
		}
		return balance, true, tx.Commit(ctx)
	}
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "claiming top-up %q", token)
	}

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx, creditBalanceSQL, userID, amount).Scan(&balance); err != nil {
		return decimal.Zero, false, errors.Wrap(err, "crediting balance")
	}
	if _, err := tx.Exec(ctx, insertLedgerSQL, userID, amount, string(credit.TypeTopUp), externalRef); err != nil {
		return decimal.Zero, false, errors.Wrap(err, "recording top-up")
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, false, errors.Wrap(err, "commit transaction")
	}
	return balance, false, nil
}
