package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types. Every balance change is one of these two.
const (
	TxTypeDebit  = "debit"
	TxTypeCredit = "credit"
)

// CreditTransaction is an immutable ledger entry. For any user,
// sum(credit amounts) - sum(debit amounts) over all entries equals the
// denormalized users.credits value.
type CreditTransaction struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Type         string     `json:"type"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	Description  string     `json:"description"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	TaskType     *string    `json:"task_type,omitempty"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
