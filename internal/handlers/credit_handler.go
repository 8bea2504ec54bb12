package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/irisblue-leo/denexus-sub000/internal/middleware"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// LedgerReader lists a user's credit transactions.
type LedgerReader interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error)
}

// UserReader loads the current balance.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// CreditHandler serves /v1/credits endpoints.
type CreditHandler struct {
	Users   UserReader
	Entries LedgerReader
	Logger  *slog.Logger
}

type balanceResponse struct {
	Credits int `json:"credits"`
}

// GetBalance handles GET /v1/credits. The balance is re-read rather than
// taken from the auth context so it reflects settlements since the key
// lookup.
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	fresh, err := h.Users.GetByID(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("load balance", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Credits: fresh.Credits})
}

// ListTransactions handles GET /v1/credits/transactions.
func (h *CreditHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.Entries.ListByUserID(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list credit transactions", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}
