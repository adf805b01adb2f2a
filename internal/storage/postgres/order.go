package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
	"github.com/xenking/freshmart-checkout/internal/domain/order"
)

const (
	lockBalanceSQL = `SELECT store_credit FROM users WHERE id = $1 FOR UPDATE`

	debitBalanceSQL = `UPDATE users SET store_credit = store_credit - $2 WHERE id = $1`

	insertLedgerSQL = `INSERT INTO store_credit_transactions (user_id, amount, type, reference)
		VALUES ($1, $2, $3, $4)`

	insertOrderSQL = `INSERT INTO orders (id, invoice_number, user_id, status, total, tax, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	insertItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)`

	decrementStockSQL = `UPDATE products SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2`

	claimTokenSQL = `UPDATE pending_payments
		SET status = 'SUCCESS', resolved_order_id = $2, resolved_at = now()
		WHERE token = $1 AND resolved_order_id IS NULL AND status <> 'FAILED'`

	getOrderSQL = `SELECT id, invoice_number, user_id, status, total, tax,
			payment_method, payment_ref, refund_ref, created_at
		FROM orders WHERE id = $1`

	getItemsSQL = `SELECT product_id, quantity, unit_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY id`

	listByUserSQL = `SELECT id, invoice_number, user_id, status, total, tax,
			payment_method, payment_ref, refund_ref, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listAllSQL = `SELECT id, invoice_number, user_id, status, total, tax,
			payment_method, payment_ref, refund_ref, created_at
		FROM orders ORDER BY created_at DESC`

	updateStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`

	cancelForUserSQL = `UPDATE orders SET status = 'Cancelled'
		WHERE user_id = $1 AND status = ANY($2)`
)

// cancelOnDeleteStatuses are the in-flight statuses bulk-cancelled when an
// account is removed.
var cancelOnDeleteStatuses = []string{
	string(order.StatusProcessing),
	string(order.StatusPacking),
	string(order.StatusOutForDelivery),
	string(order.StatusFailedPayment),
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order, its items, and the conditional stock decrements
// in one transaction. Depending on opts it also debits the store-credit
// balance (under an exclusive row lock) and claims the pending-payment token.
// Any failure rolls back every write.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, opts order.CreateOptions) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if opts.DebitStoreCredit {
		if err := debitStoreCredit(ctx, tx, o.UserID, o.Total, o.InvoiceNumber); err != nil {
			return err
		}
	}

	err = tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.InvoiceNumber, o.UserID, string(o.Status), o.Total, o.Tax, string(o.PaymentMethod),
	).Scan(&o.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "inserting order %q", o.ID)
	}

	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, insertItemSQL,
			o.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal,
		); err != nil {
			return errors.Wrapf(err, "inserting item %q", item.ProductID)
		}

		ct, err := tx.Exec(ctx, decrementStockSQL, item.ProductID, item.Quantity)
		if err != nil {
			return errors.Wrapf(err, "decrementing stock for %q", item.ProductID)
		}
		if ct.RowsAffected() == 0 {
			return &order.InsufficientStockError{ProductID: item.ProductID}
		}
	}

	if opts.ResolveToken != "" {
		ct, err := tx.Exec(ctx, claimTokenSQL, opts.ResolveToken, o.ID)
		if err != nil {
			return errors.Wrap(err, "claiming correlation token")
		}
		if ct.RowsAffected() == 0 {
			return order.ErrTokenResolved
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// debitStoreCredit locks the balance row, verifies it covers the total, and
// debits it with a ledger entry. Returning an error aborts the enclosing
// transaction before any order write.
func debitStoreCredit(ctx context.Context, tx pgx.Tx, userID string, total decimal.Decimal, reference string) error {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, lockBalanceSQL, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return credit.ErrUserNotFound
		}
		return errors.Wrap(err, "locking store credit balance")
	}
	if balance.LessThan(total) {
		return credit.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, debitBalanceSQL, userID, total); err != nil {
		return errors.Wrap(err, "debiting store credit")
	}
	if _, err := tx.Exec(ctx, insertLedgerSQL, userID, total, string(credit.TypeDebit), reference); err != nil {
		return errors.Wrap(err, "recording store credit debit")
	}
	return nil
}

// GetByID returns the order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", id)
	}

	itemRows, err := r.pool.Query(ctx, getItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting items for order %q", id)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanItem)
	if err != nil {
		return nil, errors.Wrapf(err, "getting items for order %q", id)
	}
	return &o, nil
}

// ListByUser returns a user's order summaries, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListAll returns every order summary, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listAllSQL)
	if err != nil {
		return nil, errors.Wrap(err, "listing orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus transitions the order only if it is still in the expected
// from-status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	ct, err := r.pool.Exec(ctx, updateStatusSQL, id, string(from), string(to))
	if err != nil {
		return errors.Wrapf(err, "updating status of order %q", id)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return errors.Wrapf(err, "checking order %q", id)
		}
		if !exists {
			return order.ErrNotFound
		}
		return order.ErrStatusChanged
	}
	return nil
}

// UpdatePaymentMeta sets only the provided metadata fields.
func (r *OrderRepository) UpdatePaymentMeta(ctx context.Context, id string, meta order.PaymentMeta) error {
	fields := make([]string, 0, 3)
	args := []any{id}
	if meta.PaymentMethod != nil {
		args = append(args, string(*meta.PaymentMethod))
		fields = append(fields, fmt.Sprintf("payment_method = $%d", len(args)))
	}
	if meta.PaymentRef != nil {
		args = append(args, *meta.PaymentRef)
		fields = append(fields, fmt.Sprintf("payment_ref = $%d", len(args)))
	}
	if meta.RefundRef != nil {
		args = append(args, *meta.RefundRef)
		fields = append(fields, fmt.Sprintf("refund_ref = $%d", len(args)))
	}
	if len(fields) == 0 {
		return nil
	}

	sql := "UPDATE orders SET " + joinFields(fields) + " WHERE id = $1"
	ct, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Wrapf(err, "updating payment meta of order %q", id)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// CancelForUser bulk-cancels in-flight orders of a user.
func (r *OrderRepository) CancelForUser(ctx context.Context, userID string) (int64, error) {
	ct, err := r.pool.Exec(ctx, cancelForUserSQL, userID, cancelOnDeleteStatuses)
	if err != nil {
		return 0, errors.Wrap(err, "cancelling orders")
	}
	return ct.RowsAffected(), nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		status, method string
	)
	err := row.Scan(
		&o.ID, &o.InvoiceNumber, &o.UserID, &status, &o.Total, &o.Tax,
		&method, &o.PaymentRef, &o.RefundRef, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var item order.Item
	err := row.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal)
	return item, err
}

func joinFields(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += ", " + f
	}
	return out
}
