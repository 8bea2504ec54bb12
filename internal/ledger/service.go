// Package ledger owns every mutation of a user's credit balance. The
// balance update and the matching credit_transactions append always happen
// in the same database transaction, so the denormalized balance stays equal
// to a replay of the log.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// ErrInsufficientCredits is returned when a deduct would take the balance
// below zero. No mutation happens in that case.
var ErrInsufficientCredits = errors.New("insufficient credits")

// BalanceRepo is the minimal user-balance interface for the ledger.
// DeductCredits must be conditional (no-op + pgx.ErrNoRows when the balance
// is too low) and both methods must run inside the given transaction.
type BalanceRepo interface {
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
}

// EntryRepo appends immutable ledger entries.
type EntryRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	Users   BalanceRepo
	Entries EntryRepo
	Pool    TxBeginner
}

func NewService(users BalanceRepo, entries EntryRepo, pool TxBeginner) *Service {
	return &Service{Users: users, Entries: entries, Pool: pool}
}

// Deduct reserves amount against the user's balance inside the caller's
// transaction. Call before creating the task row so a task never exists
// without a matching debit entry.
func (s *Service) Deduct(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, description string, taskID *uuid.UUID, taskType string) error {
	newBalance, err := s.Users.DeductCredits(ctx, tx, userID, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientCredits
		}
		return fmt.Errorf("deduct credits: %w", err)
	}
	return s.Entries.CreateTx(ctx, tx, &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         models.TxTypeDebit,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
		TaskID:       taskID,
		TaskType:     strPtr(taskType),
	})
}

// Refund returns a reservation to the user in its own transaction. The
// reservation is known to have happened, so there is no upper bound check.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount int, description string, taskID *uuid.UUID, taskType string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.Users.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         models.TxTypeCredit,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
		TaskID:       taskID,
		TaskType:     strPtr(taskType),
	}
	if err := s.Entries.CreateTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Credit adds purchased (or granted) credits inside the caller's
// transaction. Used by the payment path so the order status flip and the
// ledger entry commit together.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, description string, orderID *uuid.UUID) error {
	newBalance, err := s.Users.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return s.Entries.CreateTx(ctx, tx, &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         models.TxTypeCredit,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
		OrderID:      orderID,
	})
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
