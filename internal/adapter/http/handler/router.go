package handler

import (
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	IngestSvc      ports.IngestService
	RefundSvc      ports.RefundService
	PayoutSvc      ports.PayoutService
	LedgerRepo     ports.LedgerRepository
	TokenSvc       ports.TokenService
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	// --- Provider-facing routes (payload-level authentication) ---
	webhookHandler := NewWebhookHandler(deps.IngestSvc)
	v1.POST("/webhooks/payment", webhookHandler.Receive)

	// --- Operator routes (bearer token) ---
	bearerAuth := middleware.BearerAuth(deps.TokenSvc, deps.Logger)

	refundHandler := NewRefundHandler(deps.RefundSvc)
	refunds := v1.Group("/refunds", bearerAuth)
	{
		// One wildcard name per segment: the id is the order on request,
		// the refund on approve.
		refunds.POST("/:id", refundHandler.Request)
		refunds.POST("/:id/approve", refundHandler.Approve)
	}

	payoutHandler := NewPayoutHandler(deps.PayoutSvc)
	payouts := v1.Group("/payouts", bearerAuth)
	{
		payouts.POST("/run", payoutHandler.RunBatch)
		payouts.POST("/:id/run", payoutHandler.RunOne)
	}

	ledgerHandler := NewLedgerHandler(deps.LedgerRepo)
	ledger := v1.Group("/ledger", bearerAuth)
	{
		ledger.GET("/accounts/:account/balance", ledgerHandler.GetBalance)
	}

	return r
}
