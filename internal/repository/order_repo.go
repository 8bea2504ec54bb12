package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO orders (id, order_no, user_id, credits, amount_cents, status, transaction_id, expire_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, o.ID, o.OrderNo, o.UserID, o.Credits, o.AmountCents, o.Status, o.TransactionID, o.ExpireAt, o.PaidAt).Scan(&o.CreatedAt)
}

func (r *OrderRepo) GetByOrderNo(ctx context.Context, orderNo string) (*models.Order, error) {
	var o models.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_no, user_id, credits, amount_cents, status, transaction_id, expire_at, paid_at, created_at
		FROM orders WHERE order_no = $1
	`, orderNo).Scan(&o.ID, &o.OrderNo, &o.UserID, &o.Credits, &o.AmountCents, &o.Status, &o.TransactionID, &o.ExpireAt, &o.PaidAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByOrderNoForUpdate locks the order row so concurrent webhook
// deliveries for the same order serialize. Call within a transaction.
func (r *OrderRepo) GetByOrderNoForUpdate(ctx context.Context, tx pgx.Tx, orderNo string) (*models.Order, error) {
	var o models.Order
	err := tx.QueryRow(ctx, `
		SELECT id, order_no, user_id, credits, amount_cents, status, transaction_id, expire_at, paid_at, created_at
		FROM orders WHERE order_no = $1 FOR UPDATE
	`, orderNo).Scan(&o.ID, &o.OrderNo, &o.UserID, &o.Credits, &o.AmountCents, &o.Status, &o.TransactionID, &o.ExpireAt, &o.PaidAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MarkPaidTx flips the order to paid with the gateway transaction id.
func (r *OrderRepo) MarkPaidTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, transactionID string, paidAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, transaction_id = $3, paid_at = $4 WHERE id = $1
	`, id, models.OrderStatusPaid, transactionID, paidAt)
	return err
}

// ExpireStale marks pending orders past their expire_at as expired and
// returns how many rows changed.
func (r *OrderRepo) ExpireStale(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $1 WHERE status = $2 AND expire_at < now()
	`, models.OrderStatusExpired, models.OrderStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *OrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_no, user_id, credits, amount_cents, status, transaction_id, expire_at, paid_at, created_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.OrderNo, &o.UserID, &o.Credits, &o.AmountCents, &o.Status, &o.TransactionID, &o.ExpireAt, &o.PaidAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &o)
	}
	return list, rows.Err()
}
