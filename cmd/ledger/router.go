package main

import (
	"net/http"

	apispec "github.com/josh-kwaku/customer-ledger/api"
	"github.com/josh-kwaku/customer-ledger/internal/handler"
	"github.com/josh-kwaku/customer-ledger/internal/middleware"
)

func newRouter(
	transactions *handler.TransactionHandler,
	health *handler.HealthHandler,
	jwtSecret string,
	idempotency middleware.IdempotencyStore,
) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/transactions/credit", transactions.Credit)
	api.HandleFunc("POST /api/v1/transactions/debit", transactions.Debit)
	api.HandleFunc("POST /api/v1/transactions/transfer", transactions.Transfer)
	api.HandleFunc("GET /api/v1/transactions", transactions.List)
	api.HandleFunc("GET /api/v1/transactions/{id}", transactions.Get)

	protected := middleware.Auth(jwtSecret)(
		middleware.Logging(
			middleware.Idempotency(idempotency)(api),
		),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /health/ready", health.Readiness)
	mux.HandleFunc("GET /docs", handler.ServeDocs("/docs/openapi.yaml"))
	mux.HandleFunc("GET /docs/openapi.yaml", handler.ServeSpec(apispec.OpenAPI))
	mux.Handle("/api/", protected)

	return middleware.Recovery(middleware.Tracing(mux))
}
