package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microloan-ledger/internal/api_gateway/handler"
	"github.com/microloan-ledger/internal/api_gateway/middleware"
	"github.com/microloan-ledger/internal/platform/metrics"
)

// handlers groups the HTTP handlers mounted by setupRouter
type handlers struct {
	loans       *handler.LoanHandler
	payments    *handler.PaymentHandler
	refinances  *handler.RefinanceHandler
	calculators *handler.CalculatorHandler
}

// setupRouter configures API routes and middleware for the application.
// The metrics route is only mounted when m is not nil.
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	h handlers,
	m *metrics.Metrics,
	metricsPath string,
) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.Metrics(m))

	v1 := r.Group("/api/v1")
	{
		loans := v1.Group("/loans")
		{
			loans.POST("", h.loans.Create)
			loans.GET("/:id", h.loans.GetByID)
			loans.GET("/:id/ledger", h.loans.ListLedger)
			loans.GET("/:id/arrears", h.loans.Arrears)
			loans.GET("/:id/pending-interest", h.loans.PendingInterest)
			loans.GET("/:id/audit", h.loans.Audit)
			loans.POST("/:id/accrue", h.loans.Accrue)
			loans.POST("/:id/cancel", h.loans.Cancel)
			loans.GET("/:id/payments", h.payments.List)
			loans.POST("/:id/payments", h.payments.Register)
		}

		v1.DELETE("/payments/:id", h.payments.Delete)
		v1.POST("/payment-commands", h.payments.SubmitCommand)

		v1.POST("/refinances", h.refinances.Refinance)
		v1.POST("/consolidations", h.refinances.Consolidate)

		v1.GET("/dashboard", h.loans.Dashboard)

		calculator := v1.Group("/calculator")
		{
			calculator.POST("/schedule", h.calculators.Schedule)
			calculator.POST("/installment", h.calculators.Installment)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	if m != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(m.Handler()))
	}
}
