package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/irisblue-leo/denexus-sub000/internal/middleware"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
	"github.com/irisblue-leo/denexus-sub000/internal/payment"
)

// PaymentService is the payment surface the handler needs.
type PaymentService interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, packageID string) (*models.Order, error)
	Reconcile(ctx context.Context, orderNo, transactionID string) error
	ListOrders(ctx context.Context, userID uuid.UUID) ([]*models.Order, error)
}

// PaymentHandler serves /v1/orders and the gateway webhook.
type PaymentHandler struct {
	Payments PaymentService
	// WebhookSecret signs webhook bodies; deliveries with a bad signature
	// are dropped before any order lookup.
	WebhookSecret string
	Logger        *slog.Logger
}

// ListPackages handles GET /v1/orders/packages (public catalog).
func (h *PaymentHandler) ListPackages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, payment.Packages)
}

// --- POST /v1/orders ---

type createOrderRequest struct {
	PackageID string `json:"package_id"`
}

// CreateOrder handles POST /v1/orders.
func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Payments.CreateOrder(r.Context(), user.ID, req.PackageID)
	if err != nil {
		if errors.Is(err, payment.ErrUnknownPackage) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("create order", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders handles GET /v1/orders.
func (h *PaymentHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	orders, err := h.Payments.ListOrders(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list orders", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// --- POST /v1/payments/webhook ---

type webhookPayload struct {
	OrderNo       string `json:"order_no"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Webhook handles the gateway's payment notification. Verifies the HMAC
// signature, then reconciles. Redeliveries of a paid order return 200 so
// the gateway stops retrying.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}
	if !h.verifySignature(body, r.Header.Get("X-Signature")) {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if payload.OrderNo == "" || payload.TransactionID == "" {
		http.Error(w, `{"error":"order_no and transaction_id are required"}`, http.StatusBadRequest)
		return
	}
	if payload.Status != "success" {
		// Non-success notifications are acknowledged and ignored; the order
		// either expires or a later success arrives.
		h.Logger.Info("non-success payment notification",
			"order_no", payload.OrderNo, "status", payload.Status)
		writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	if err := h.Payments.Reconcile(r.Context(), payload.OrderNo, payload.TransactionID); err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderNotFound):
			http.Error(w, `{"error":"order not found"}`, http.StatusNotFound)
		case errors.Is(err, payment.ErrOrderExpired):
			http.Error(w, `{"error":"order expired"}`, http.StatusGone)
		default:
			h.Logger.Error("reconcile order", "order_no", payload.OrderNo, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (h *PaymentHandler) verifySignature(body []byte, signature string) bool {
	if h.WebhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
