package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/api_gateway/middleware"
	"github.com/microloan-ledger/internal/api_gateway/service"
	"github.com/microloan-ledger/internal/domain/finance"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
)

// LoanHandler handles HTTP requests for loan operations
type LoanHandler struct {
	loanService  processor.LoanService
	auditService service.AuditService
	logger       *slog.Logger
	now          func() time.Time
}

// NewLoanHandler creates a new loan handler. auditService may be nil when
// the audit store is not configured.
func NewLoanHandler(logger *slog.Logger, loanService processor.LoanService, auditService service.AuditService) *LoanHandler {
	return &LoanHandler{
		loanService:  loanService,
		auditService: auditService,
		logger:       logger,
		now:          time.Now,
	}
}

// Create disburses a new loan, importing any historical payments
func (h *LoanHandler) Create(c *gin.Context) {
	var req CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		RespondBadRequest(c, "Invalid client ID")
		return
	}
	startDate, ok := parseDate(c, "start_date", req.StartDate)
	if !ok {
		return
	}
	disburse, ok := req.LoanTermsRequest.toDisburse(c)
	if !ok {
		return
	}
	disburse.ClientID = clientID
	disburse.Principal = req.Principal
	disburse.StartDate = startDate
	disburse.CorrelationID = middleware.GetCorrelationID(c)

	for _, p := range req.Payments {
		paidAt, ok := parseDate(c, "payments.paid_at", p.PaidAt)
		if !ok {
			return
		}
		disburse.Payments = append(disburse.Payments, processor.HistoricalPayment{
			PaidAt:    paidAt,
			Amount:    p.Amount,
			Method:    p.Method,
			Reference: p.Reference,
			Notes:     p.Notes,
		})
	}

	l, err := h.loanService.DisburseLoan(c.Request.Context(), disburse)
	if err != nil {
		respondServiceError(c, h.logger, "disburse loan", err)
		return
	}

	RespondCreated(c, mapLoanToResponse(l))
}

// toDisburse converts the terms, leaving client, principal and start date to
// the caller.
func (t LoanTermsRequest) toDisburse(c *gin.Context) (processor.DisburseLoanRequest, bool) {
	maturity, ok := parseOptionalDate(c, "maturity_date", t.MaturityDate)
	if !ok {
		return processor.DisburseLoanRequest{}, false
	}
	return processor.DisburseLoanRequest{
		Code:              t.Code,
		MaturityDate:      maturity,
		Modality:          finance.Modality(t.Modality),
		MonthlyRate:       t.MonthlyRate,
		InterestMode:      finance.InterestMode(t.InterestMode),
		Convention:        t.Convention,
		InstallmentAmount: t.InstallmentAmount,
		TermPeriods:       t.TermPeriods,
		LateFees: finance.LateFeePolicy{
			Enabled:     t.LateFees.Enabled,
			DailyAmount: t.LateFees.DailyAmount,
			GracePeriod: t.LateFees.GracePeriod,
		},
	}, true
}

// GetByID retrieves a loan by its ID, returning 404 if not found
func (h *LoanHandler) GetByID(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	l, err := h.loanService.GetLoan(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, "get loan", err)
		return
	}

	RespondOK(c, mapLoanToResponse(l))
}

// ListLedger returns a page of the loan's ledger in posting order
func (h *LoanHandler) ListLedger(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	var params PaginationParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	entries, total, err := h.loanService.ListLedger(c.Request.Context(), id, params.PerPage, (params.Page-1)*params.PerPage)
	if err != nil {
		respondServiceError(c, h.logger, "list ledger", err)
		return
	}

	response := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, mapEntryToResponse(e))
	}
	RespondWithPaginatedData(c, http.StatusOK, response, params.Page, params.PerPage, int(total))
}

// Arrears returns the loan's arrears as of today
func (h *LoanHandler) Arrears(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	arrears, err := h.loanService.ComputeArrears(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, "compute arrears", err)
		return
	}

	RespondOK(c, mapArrearsToResponse(arrears))
}

// PendingInterest quotes the interest an accrual to as_of would post
func (h *LoanHandler) PendingInterest(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	asOf := h.today()
	if raw := c.Query("as_of"); raw != "" {
		if asOf, ok = parseDate(c, "as_of", raw); !ok {
			return
		}
	}

	quote, err := h.loanService.PeekPendingInterest(c.Request.Context(), id, asOf)
	if err != nil {
		respondServiceError(c, h.logger, "peek pending interest", err)
		return
	}

	RespondOK(c, InterestQuoteResponse{
		From:      formatDate(quote.From),
		To:        formatDate(quote.To),
		Days:      quote.Days,
		Base:      money(quote.Base),
		DailyRate: quote.DailyRate.String(),
		Interest:  money(quote.Interest),
	})
}

// Accrue posts interest and late fees up to the requested date
func (h *LoanHandler) Accrue(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	var req AccrueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	asOf, ok := parseDate(c, "as_of", req.AsOf)
	if !ok {
		return
	}

	l, err := h.loanService.AccrueInterest(c.Request.Context(), id, asOf)
	if err != nil {
		respondServiceError(c, h.logger, "accrue interest", err)
		return
	}

	RespondOK(c, mapLoanToResponse(l))
}

// Cancel cancels a loan without payments, or writes it off otherwise
func (h *LoanHandler) Cancel(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}

	var req CancelLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	at, ok := parseDate(c, "date", req.Date)
	if !ok {
		return
	}

	l, err := h.loanService.CancelOrWriteOff(c.Request.Context(), id, req.Reason, at)
	if err != nil {
		respondServiceError(c, h.logger, "cancel loan", err)
		return
	}

	RespondOK(c, mapLoanToResponse(l))
}

// Dashboard returns the portfolio summary
func (h *LoanHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.loanService.Dashboard(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.logger, "build dashboard", err)
		return
	}

	RespondOK(c, mapDashboardToResponse(dashboard))
}

// Audit returns the published event history of a loan, newest first
func (h *LoanHandler) Audit(c *gin.Context) {
	id, ok := parseIDParam(c, h.logger, "id", "loan")
	if !ok {
		return
	}
	if h.auditService == nil {
		RespondNotFound(c, "Audit trail is not available")
		return
	}

	var params PaginationParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters: "+err.Error())
		return
	}

	records, total, err := h.auditService.ListByLoan(c.Request.Context(), id, params.Page, params.PerPage)
	if err != nil {
		h.logger.Error("Failed to list audit records", "loan_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	response := make([]AuditRecordResponse, 0, len(records))
	for _, r := range records {
		response = append(response, mapAuditToResponse(r))
	}
	RespondWithPaginatedData(c, http.StatusOK, response, params.Page, params.PerPage, int(total))
}

func (h *LoanHandler) today() time.Time {
	now := h.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
