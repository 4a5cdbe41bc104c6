package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/microloan-ledger/internal/domain/finance"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
)

// CalculatorHandler serves the stateless loan calculators
type CalculatorHandler struct {
	loanService processor.LoanService
	logger      *slog.Logger
}

// NewCalculatorHandler creates a new calculator handler
func NewCalculatorHandler(logger *slog.Logger, loanService processor.LoanService) *CalculatorHandler {
	return &CalculatorHandler{
		loanService: loanService,
		logger:      logger,
	}
}

// Schedule projects the amortization table of a hypothetical loan
func (h *CalculatorHandler) Schedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	start, ok := parseDate(c, "start_date", req.StartDate)
	if !ok {
		return
	}

	schedule, err := h.loanService.ProjectSchedule(finance.ScheduleParams{
		Principal:              req.Principal,
		MonthlyRate:            req.MonthlyRate,
		Modality:               finance.Modality(req.Modality),
		Installment:            req.Installment,
		StartDate:              start,
		InterestMode:           finance.InterestMode(req.InterestMode),
		Convention:             req.Convention,
		InitialAccruedInterest: req.InitialAccruedInterest,
	})
	if err != nil {
		respondServiceError(c, h.logger, "project schedule", err)
		return
	}

	RespondOK(c, mapScheduleToResponse(schedule))
}

// Installment sizes the installment for a term, or the interest-only
// installment when no term is given
func (h *CalculatorHandler) Installment(c *gin.Context) {
	var req InstallmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	quote, err := h.loanService.CalculateInstallment(finance.InstallmentParams{
		Principal:    req.Principal,
		MonthlyRate:  req.MonthlyRate,
		Modality:     finance.Modality(req.Modality),
		InterestMode: finance.InterestMode(req.InterestMode),
		Convention:   req.Convention,
		TermPeriods:  req.TermPeriods,
	})
	if err != nil {
		respondServiceError(c, h.logger, "calculate installment", err)
		return
	}

	RespondOK(c, InstallmentResponse{
		Installment: money(quote.Installment),
		Schedule:    mapScheduleToResponse(quote.Schedule),
	})
}
