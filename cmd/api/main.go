package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-ledger/config"
	httpHandler "marketplace-ledger/internal/adapter/http/handler"
	"marketplace-ledger/internal/adapter/messaging"
	"marketplace-ledger/internal/adapter/provider"
	pgStorage "marketplace-ledger/internal/adapter/storage/postgres"
	redisStorage "marketplace-ledger/internal/adapter/storage/redis"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Marketplace Ledger")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize AMQP publisher
	publisher, err := messaging.NewRabbitPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer publisher.Close()
	log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("RabbitMQ connected")

	// Initialize repositories
	orderRepo := pgStorage.NewOrderRepo(pool)
	ledgerRepo := pgStorage.NewLedgerRepo(pool)
	webhookRepo := pgStorage.NewWebhookEventRepo(pool)
	payoutRepo := pgStorage.NewPayoutRepo(pool)
	refundRepo := pgStorage.NewRefundRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	dedupCache := redisStorage.NewDedupCache(rdb)

	// Initialize provider clients
	payoutClient := provider.NewPayoutClient(cfg.Payout.ProviderURL, &http.Client{Timeout: cfg.Payout.Timeout}, log)
	refundClient := provider.NewRefundClient(cfg.Refund.ProviderURL, &http.Client{Timeout: cfg.Refund.Timeout}, log)
	invoiceClient := provider.NewInvoiceClient(cfg.Invoice.ProviderURL, &http.Client{Timeout: cfg.Invoice.Timeout}, log)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	notifier := messaging.NewNotifier(publisher, log)

	// Initialize business services
	reconciler := service.NewReconcileService(orderRepo, ledgerRepo, invoiceClient, notifier, log)
	ingestSvc := service.NewIngestService(
		webhookRepo,
		dedupCache,
		reconciler,
		sigSvc,
		transactor,
		cfg.Webhook.Secret,
		cfg.Webhook.DedupTTL,
		log,
	)
	payoutSvc := service.NewPayoutService(
		orderRepo, payoutRepo, ledgerRepo, payoutClient, transactor,
		service.PayoutOptions{
			MaxAttempts:     cfg.Payout.MaxAttempts,
			BackoffBase:     cfg.Payout.BackoffBase,
			BackoffCap:      cfg.Payout.BackoffCap,
			ProviderTimeout: cfg.Payout.Timeout,
			BatchLimit:      cfg.Payout.BatchLimit,
		},
		log,
	)
	refundSvc := service.NewRefundService(
		orderRepo, refundRepo, payoutRepo, ledgerRepo, refundClient, notifier, transactor,
		service.RefundOptions{
			LargeThreshold:  cfg.Refund.LargeThreshold,
			MaxAttempts:     cfg.Refund.MaxAttempts,
			BackoffBase:     cfg.Refund.BackoffBase,
			BackoffCap:      cfg.Refund.BackoffCap,
			ProviderTimeout: cfg.Refund.Timeout,
		},
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IngestSvc:      ingestSvc,
		RefundSvc:      refundSvc,
		PayoutSvc:      payoutSvc,
		LedgerRepo:     ledgerRepo,
		TokenSvc:       tokenSvc,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
