package api_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microloan-ledger/internal/api_gateway/handler"
	"github.com/microloan-ledger/internal/api_gateway/service"
	"github.com/microloan-ledger/internal/config"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/platform/metrics"
)

// Services are the dependencies of the HTTP API. Commands and Audit are
// optional.
type Services struct {
	Loans      processor.LoanService
	Payments   processor.PaymentService
	Refinances processor.RefinanceService
	Commands   service.PaymentCommandService
	Audit      service.AuditService
	Metrics    *metrics.Metrics
}

// Server handles HTTP requests and manages the application's lifecycle
type Server struct {
	logger     *slog.Logger // For structured logging
	httpServer *http.Server // Underlying HTTP server
	httpRouter *gin.Engine  // Gin router instance
}

// NewServer creates and configures a new HTTP server with the given services
func NewServer(log *slog.Logger, cfg *config.Config, svc Services) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	setupRouter(log, httpRouter, handlers{
		loans:       handler.NewLoanHandler(log, svc.Loans, svc.Audit),
		payments:    handler.NewPaymentHandler(log, svc.Payments, svc.Commands),
		refinances:  handler.NewRefinanceHandler(log, svc.Refinances),
		calculators: handler.NewCalculatorHandler(log, svc.Loans),
	}, svc.Metrics, cfg.Metrics.Path)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting at most the write
// timeout for in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.httpServer.WriteTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
