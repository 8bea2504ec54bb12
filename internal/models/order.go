package models

import (
	"time"

	"github.com/google/uuid"
)

// Order lifecycle. The pending -> paid transition is the trigger for a
// ledger credit and must be idempotent under webhook redelivery.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusExpired = "expired"
)

type Order struct {
	ID            uuid.UUID  `json:"id"`
	OrderNo       string     `json:"order_no"`
	UserID        uuid.UUID  `json:"user_id"`
	Credits       int        `json:"credits"`
	AmountCents   int        `json:"amount_cents"`
	Status        string     `json:"status"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	ExpireAt      time.Time  `json:"expire_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
