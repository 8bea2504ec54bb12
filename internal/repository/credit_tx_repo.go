package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// CreditTxRepo persists immutable ledger entries. Entries are only ever
// inserted; there is no Update.
type CreditTxRepo struct {
	pool *pgxpool.Pool
}

func NewCreditTxRepo(pool *pgxpool.Pool) *CreditTxRepo {
	return &CreditTxRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *CreditTxRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, description, task_id, task_type, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, c.ID, c.UserID, c.Type, c.Amount, c.BalanceAfter, c.Description, c.TaskID, c.TaskType, c.OrderID).Scan(&c.CreatedAt)
}

func (r *CreditTxRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CreditTransaction, error) {
	var c models.CreditTransaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, task_id, task_type, order_id, created_at
		FROM credit_transactions WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.Type, &c.Amount, &c.BalanceAfter, &c.Description, &c.TaskID, &c.TaskType, &c.OrderID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CreditTxRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, task_id, task_type, order_id, created_at
		FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCreditTxs(rows)
}

func (r *CreditTxRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, task_id, task_type, order_id, created_at
		FROM credit_transactions WHERE task_id = $1 ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCreditTxs(rows)
}

func scanCreditTxs(rows pgx.Rows) ([]*models.CreditTransaction, error) {
	var list []*models.CreditTransaction
	for rows.Next() {
		var c models.CreditTransaction
		if err := rows.Scan(&c.ID, &c.UserID, &c.Type, &c.Amount, &c.BalanceAfter, &c.Description, &c.TaskID, &c.TaskType, &c.OrderID, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
