package main

import (
	"log/slog"
	"net/http"

	"github.com/irisblue-leo/denexus-sub000/internal/handlers"
	"github.com/irisblue-leo/denexus-sub000/internal/ingest"
	"github.com/irisblue-leo/denexus-sub000/internal/middleware"
	"github.com/irisblue-leo/denexus-sub000/internal/orchestrator"
	"github.com/irisblue-leo/denexus-sub000/internal/payment"
	"github.com/irisblue-leo/denexus-sub000/internal/repository"
)

// RegisterV1Routes adds the /v1/ API endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (TaskPrecheck on POST /v1/tasks only) -> handler.
// The payment webhook is unauthenticated; it verifies its own HMAC signature.
func RegisterV1Routes(
	mux *http.ServeMux,
	orch *orchestrator.Service,
	paySvc *payment.Service,
	ingestor *ingest.Ingestor,
	userRepo *repository.UserRepo,
	creditTxRepo *repository.CreditTxRepo,
	assetRepo *repository.AssetRepo,
	apiKeyRepo *repository.APIKeyRepo,
	webhookSecret string,
	logger *slog.Logger,
) {
	th := &handlers.TaskHandler{Tasks: orch, Logger: logger}
	ah := &handlers.AssetHandler{Assets: assetRepo, Ingestor: ingestor, Logger: logger}
	ph := &handlers.PaymentHandler{Payments: paySvc, WebhookSecret: webhookSecret, Logger: logger}
	ch := &handlers.CreditHandler{Users: userRepo, Entries: creditTxRepo, Logger: logger}

	auth := middleware.APIKeyAuth(apiKeyRepo)
	precheck := middleware.TaskPrecheck(orch.Providers.JobTypes())

	mux.Handle("POST /v1/tasks", auth(precheck(http.HandlerFunc(th.CreateTask))))
	mux.Handle("GET /v1/tasks", auth(http.HandlerFunc(th.ListTasks)))
	mux.Handle("GET /v1/tasks/{id}", auth(http.HandlerFunc(th.GetTask)))
	mux.Handle("DELETE /v1/tasks/{id}", auth(http.HandlerFunc(th.DeleteTask)))

	mux.Handle("GET /v1/assets", auth(http.HandlerFunc(ah.ListAssets)))
	mux.Handle("POST /v1/assets", auth(http.HandlerFunc(ah.UploadAsset)))
	mux.Handle("GET /v1/assets/{id}", auth(http.HandlerFunc(ah.GetAsset)))
	mux.Handle("DELETE /v1/assets/{id}", auth(http.HandlerFunc(ah.DeleteAsset)))

	mux.Handle("GET /v1/credits", auth(http.HandlerFunc(ch.GetBalance)))
	mux.Handle("GET /v1/credits/transactions", auth(http.HandlerFunc(ch.ListTransactions)))

	mux.Handle("GET /v1/orders", auth(http.HandlerFunc(ph.ListOrders)))
	mux.Handle("POST /v1/orders", auth(http.HandlerFunc(ph.CreateOrder)))
	mux.HandleFunc("GET /v1/orders/packages", ph.ListPackages)

	mux.HandleFunc("POST /v1/payments/webhook", ph.Webhook)
}
