package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/api_gateway/middleware"
	"github.com/microloan-ledger/internal/api_gateway/service"
	"github.com/microloan-ledger/internal/domain/shared"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
)

// PaymentHandler handles HTTP requests for payment operations
type PaymentHandler struct {
	paymentService processor.PaymentService
	commandService service.PaymentCommandService
	logger         *slog.Logger
}

// NewPaymentHandler creates a new payment handler. commandService may be nil
// when Kafka is not configured.
func NewPaymentHandler(logger *slog.Logger, paymentService processor.PaymentService, commandService service.PaymentCommandService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		commandService: commandService,
		logger:         logger,
	}
}

// Register applies a payment synchronously, replaying later history when it
// is retroactive
func (h *PaymentHandler) Register(c *gin.Context) {
	loanID, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	var req RegisterPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	paidAt, ok := parseDate(c, "paid_at", req.PaidAt)
	if !ok {
		return
	}

	p, err := h.paymentService.RegisterPayment(c.Request.Context(), processor.RegisterPaymentRequest{
		LoanID:        loanID,
		PaidAt:        paidAt,
		Amount:        req.Amount,
		Method:        req.Method,
		Reference:     req.Reference,
		Notes:         req.Notes,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		respondServiceError(c, h.logger, "register payment", err)
		return
	}

	RespondCreated(c, mapPaymentToResponse(p))
}

// List returns the loan's payments in application order
func (h *PaymentHandler) List(c *gin.Context) {
	loanID, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	payments, err := h.paymentService.ListPayments(c.Request.Context(), loanID)
	if err != nil {
		respondServiceError(c, h.logger, "list payments", err)
		return
	}

	response := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		response = append(response, mapPaymentToResponse(p))
	}
	RespondOK(c, response)
}

// Delete removes a payment and replays the history after it
func (h *PaymentHandler) Delete(c *gin.Context) {
	paymentID, ok := parseIDParam(c, h.logger, "id", "payment")
	if !ok {
		return
	}

	if err := h.paymentService.DeletePayment(c.Request.Context(), paymentID); err != nil {
		respondServiceError(c, h.logger, "delete payment", err)
		return
	}

	RespondNoContent(c)
}

// SubmitCommand queues a payment for the worker and answers 202
func (h *PaymentHandler) SubmitCommand(c *gin.Context) {
	if h.commandService == nil {
		RespondWithError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "Asynchronous payments are not enabled")
		return
	}

	var req PaymentCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	loanID, err := uuid.Parse(req.LoanID)
	if err != nil {
		RespondBadRequest(c, "Invalid loan ID")
		return
	}
	paidAt, ok := parseDate(c, "paid_at", req.PaidAt)
	if !ok {
		return
	}

	commandID, err := h.commandService.SubmitPayment(c.Request.Context(), &shared.PaymentCommand{
		LoanID:        loanID,
		PaidAt:        paidAt,
		Amount:        req.Amount,
		Method:        req.Method,
		Reference:     req.Reference,
		Notes:         req.Notes,
		CorrelationID: middleware.GetCorrelationID(c),
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		respondServiceError(c, h.logger, "submit payment command", err)
		return
	}

	RespondAccepted(c, PaymentCommandResponse{
		CommandID: commandID.String(),
		Status:    "queued",
	})
}
