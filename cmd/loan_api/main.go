package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microloan-ledger/internal/api_gateway"
	"github.com/microloan-ledger/internal/api_gateway/service"
	"github.com/microloan-ledger/internal/config"
	"github.com/microloan-ledger/internal/data/mongo"
	"github.com/microloan-ledger/internal/data/postgres"
	"github.com/microloan-ledger/internal/loan_processor/components"
	"github.com/microloan-ledger/internal/logger"
	"github.com/microloan-ledger/internal/platform/messaging/producers"
	"github.com/microloan-ledger/internal/platform/metrics"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/microloan-ledger/internal/platform/tracing"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("loan_api")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)

	log.Info("Starting Loan API",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	shutdownTracing, err := tracing.Init(appCtx, log, &cfg.Application, &cfg.Tracing)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Initialize databases with app context, migrating first when configured
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Payment commands are queued for the worker, keyed by loan
	commandProducer, err := producers.NewPaymentCommandProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize payment command producer", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	repos := components.Repositories{
		Loans:    postgres.NewLoanRepository(log, postgresDB),
		Ledger:   postgres.NewLedgerRepository(log, postgresDB),
		Payments: postgres.NewPaymentRepository(log, postgresDB),
		Outbox:   postgres.NewOutboxRepository(log, postgresDB),
	}
	auditRepo := mongo.NewAuditRepository(log, mongoDB.Database(), cfg.MongoDB.AuditCollection)

	// Initialize services
	loanServices := components.CreateServices(postgresDB, repos, cfg, m, log)

	// Initialize REST server
	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Loans:      loanServices.Loans,
		Payments:   loanServices.Payments,
		Refinances: loanServices.Refinances,
		Commands:   service.NewPaymentCommandService(log, commandProducer),
		Audit:      service.NewAuditService(log, auditRepo),
		Metrics:    m,
	})
	log.Info("REST server initialized")

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before the pool goes away
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	loanServices.Batch.Shutdown()
	postgresDB.Close()

	if err = commandProducer.Close(); err != nil {
		log.Error("Error closing payment command producer", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if err = shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error flushing traces", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Server shutdown completed with errors")
	} else {
		log.Info("Server shutdown completed successfully")
	}
}
