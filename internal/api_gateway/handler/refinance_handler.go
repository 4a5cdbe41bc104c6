package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/api_gateway/middleware"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
)

// RefinanceHandler handles HTTP requests that fold loans into a new one
type RefinanceHandler struct {
	refinanceService processor.RefinanceService
	logger           *slog.Logger
}

// NewRefinanceHandler creates a new refinance handler
func NewRefinanceHandler(logger *slog.Logger, refinanceService processor.RefinanceService) *RefinanceHandler {
	return &RefinanceHandler{
		refinanceService: refinanceService,
		logger:           logger,
	}
}

// Refinance pays off one or more loans into a new loan
func (h *RefinanceHandler) Refinance(c *gin.Context) {
	request, ok := h.bind(c)
	if !ok {
		return
	}

	result, err := h.refinanceService.RefinanceLoans(c.Request.Context(), request)
	if err != nil {
		respondServiceError(c, h.logger, "refinance loans", err)
		return
	}

	RespondCreated(c, mapRefinanceToResponse(result))
}

// Consolidate pays off at least two loans into a new loan
func (h *RefinanceHandler) Consolidate(c *gin.Context) {
	request, ok := h.bind(c)
	if !ok {
		return
	}

	result, err := h.refinanceService.ConsolidateLoans(c.Request.Context(), request)
	if err != nil {
		respondServiceError(c, h.logger, "consolidate loans", err)
		return
	}

	RespondCreated(c, mapRefinanceToResponse(result))
}

func (h *RefinanceHandler) bind(c *gin.Context) (processor.RefinanceRequest, bool) {
	var req RefinanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return processor.RefinanceRequest{}, false
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		RespondBadRequest(c, "Invalid client ID")
		return processor.RefinanceRequest{}, false
	}
	loanIDs, err := parseUUIDs(req.LoanIDs)
	if err != nil {
		RespondBadRequest(c, "Invalid loan ID")
		return processor.RefinanceRequest{}, false
	}
	date, ok := parseDate(c, "refinance_date", req.RefinanceDate)
	if !ok {
		return processor.RefinanceRequest{}, false
	}
	terms, ok := req.Terms.toDisburse(c)
	if !ok {
		return processor.RefinanceRequest{}, false
	}

	return processor.RefinanceRequest{
		ClientID:      clientID,
		LoanIDs:       loanIDs,
		Principal:     req.Principal,
		RefinanceDate: date,
		Terms:         terms,
		CorrelationID: middleware.GetCorrelationID(c),
	}, true
}
