package models

import (
	"time"

	"github.com/google/uuid"
)

// SignupBonusCredits is granted through the ledger when a user registers,
// so the balance stays derivable from the transaction log.
const SignupBonusCredits = 20

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
