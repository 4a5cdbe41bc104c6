package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/audit"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/shopspring/decimal"
)

// Dates travel as YYYY-MM-DD strings and money as decimal strings.

// LateFeeRequest overrides the portfolio late fee settings for one loan
type LateFeeRequest struct {
	Enabled     bool             `json:"enabled"`
	DailyAmount *decimal.Decimal `json:"daily_amount,omitempty"`
	GracePeriod *int             `json:"grace_period,omitempty"`
}

// HistoricalPaymentRequest is a payment imported together with a new loan
type HistoricalPaymentRequest struct {
	PaidAt    string          `json:"paid_at" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" binding:"required"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// LoanTermsRequest holds the contractual terms shared by new and
// refinancing loans
type LoanTermsRequest struct {
	Code              string           `json:"code,omitempty"`
	MaturityDate      string           `json:"maturity_date,omitempty"`
	Modality          string           `json:"modality" binding:"required,oneof=daily weekly biweekly monthly"`
	MonthlyRate       decimal.Decimal  `json:"monthly_rate"`
	InterestMode      string           `json:"interest_mode" binding:"required,oneof=simple compound"`
	Convention        int              `json:"days_in_month_convention" binding:"required,oneof=30 31"`
	InstallmentAmount *decimal.Decimal `json:"installment_amount,omitempty"`
	TermPeriods       *int             `json:"term_periods,omitempty"`
	LateFees          LateFeeRequest   `json:"late_fees"`
}

// CreateLoanRequest represents a request to disburse a new loan
type CreateLoanRequest struct {
	ClientID  string          `json:"client_id" binding:"required,uuid"`
	Principal decimal.Decimal `json:"principal"`
	StartDate string          `json:"start_date" binding:"required"`
	LoanTermsRequest
	Payments []HistoricalPaymentRequest `json:"payments,omitempty" binding:"dive"`
}

// LoanResponse represents a loan in API responses
type LoanResponse struct {
	ID                   string  `json:"id"`
	ClientID             string  `json:"client_id"`
	Code                 string  `json:"code,omitempty"`
	Status               string  `json:"status"`
	StartDate            string  `json:"start_date"`
	MaturityDate         string  `json:"maturity_date"`
	Modality             string  `json:"modality"`
	MonthlyRate          string  `json:"monthly_rate"`
	InterestMode         string  `json:"interest_mode"`
	InterestBase         string  `json:"interest_base"`
	Convention           int     `json:"days_in_month_convention"`
	InstallmentAmount    string  `json:"installment_amount"`
	TargetTermPeriods    *int    `json:"target_term_periods,omitempty"`
	PrincipalInitial     string  `json:"principal_initial"`
	PrincipalOutstanding string  `json:"principal_outstanding"`
	InterestAccrued      string  `json:"interest_accrued"`
	FeesAccrued          string  `json:"fees_accrued"`
	BalanceTotal         string  `json:"balance_total"`
	LastAccrualDate      *string `json:"last_accrual_date,omitempty"`
	CancellationReason   string  `json:"cancellation_reason,omitempty"`
	CancellationDate     *string `json:"cancellation_date,omitempty"`
	Version              int     `json:"version"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// RegisterPaymentRequest represents a synchronous payment registration
type RegisterPaymentRequest struct {
	PaidAt    string          `json:"paid_at" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" binding:"required"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// PaymentCommandRequest represents a payment queued for the worker
type PaymentCommandRequest struct {
	LoanID    string          `json:"loan_id" binding:"required,uuid"`
	PaidAt    string          `json:"paid_at" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" binding:"required"`
	Reference string          `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// PaymentCommandResponse acknowledges a queued payment
type PaymentCommandResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID               string `json:"id"`
	LoanID           string `json:"loan_id"`
	LedgerEntryID    string `json:"ledger_entry_id"`
	PaidAt           string `json:"paid_at"`
	Amount           string `json:"amount"`
	Method           string `json:"method"`
	Reference        string `json:"reference,omitempty"`
	Notes            string `json:"notes,omitempty"`
	AppliedFees      string `json:"applied_fees"`
	AppliedInterest  string `json:"applied_interest"`
	AppliedPrincipal string `json:"applied_principal"`
	ExcessAmount     string `json:"excess_amount"`
	CreatedAt        string `json:"created_at"`
}

// LedgerEntryResponse represents a ledger entry in API responses
type LedgerEntryResponse struct {
	ID             string         `json:"id"`
	Seq            int64          `json:"seq"`
	PaymentID      string         `json:"payment_id,omitempty"`
	Type           string         `json:"type"`
	OccurredAt     string         `json:"occurred_at"`
	Amount         string         `json:"amount"`
	PrincipalDelta string         `json:"principal_delta"`
	InterestDelta  string         `json:"interest_delta"`
	FeesDelta      string         `json:"fees_delta"`
	BalanceAfter   string         `json:"balance_after"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// AccrueRequest represents a manual accrual up to a date
type AccrueRequest struct {
	AsOf string `json:"as_of" binding:"required"`
}

// CancelLoanRequest represents a cancellation or write-off
type CancelLoanRequest struct {
	Reason string `json:"reason" binding:"required"`
	Date   string `json:"date" binding:"required"`
}

// RefinanceRequest represents a refinance or consolidation. The terms are
// those of the new loan; its principal and start date are derived.
type RefinanceRequest struct {
	ClientID      string           `json:"client_id" binding:"required,uuid"`
	LoanIDs       []string         `json:"loan_ids" binding:"required,min=1,dive,uuid"`
	Principal     decimal.Decimal  `json:"principal"`
	RefinanceDate string           `json:"refinance_date" binding:"required"`
	Terms         LoanTermsRequest `json:"terms"`
}

// PayoffResponse is one refinanced loan's payoff
type PayoffResponse struct {
	LoanID    string `json:"loan_id"`
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
	Fees      string `json:"fees"`
	Total     string `json:"total"`
}

// RefinanceResponse represents the outcome of a refinance
type RefinanceResponse struct {
	NewLoan     LoanResponse     `json:"new_loan"`
	Payoffs     []PayoffResponse `json:"payoffs"`
	TotalPayoff string           `json:"total_payoff"`
}

// ScheduleRequest represents an amortization projection
type ScheduleRequest struct {
	Principal              decimal.Decimal `json:"principal"`
	MonthlyRate            decimal.Decimal `json:"monthly_rate"`
	Modality               string          `json:"modality" binding:"required"`
	Installment            decimal.Decimal `json:"installment_amount"`
	StartDate              string          `json:"start_date" binding:"required"`
	InterestMode           string          `json:"interest_mode,omitempty"`
	Convention             int             `json:"days_in_month_convention,omitempty"`
	InitialAccruedInterest decimal.Decimal `json:"initial_accrued_interest"`
}

// InstallmentRequest represents an installment calculation
type InstallmentRequest struct {
	Principal    decimal.Decimal `json:"principal"`
	MonthlyRate  decimal.Decimal `json:"monthly_rate"`
	Modality     string          `json:"modality" binding:"required"`
	InterestMode string          `json:"interest_mode,omitempty"`
	Convention   int             `json:"days_in_month_convention,omitempty"`
	TermPeriods  *int            `json:"term_periods,omitempty"`
}

// ScheduleRowResponse is one projected period
type ScheduleRowResponse struct {
	Period      int    `json:"period"`
	Date        string `json:"date"`
	Installment string `json:"installment"`
	Interest    string `json:"interest"`
	Principal   string `json:"principal"`
	Balance     string `json:"balance"`
}

// ScheduleResponse represents a projected amortization table
type ScheduleResponse struct {
	Rows          []ScheduleRowResponse `json:"rows"`
	Periods       int                   `json:"periods"`
	MaturityDate  string                `json:"maturity_date"`
	TotalPaid     string                `json:"total_paid"`
	TotalInterest string                `json:"total_interest"`
	Truncated     bool                  `json:"truncated"`
}

// InstallmentResponse represents the calculated installment
type InstallmentResponse struct {
	Installment string            `json:"installment_amount"`
	Schedule    *ScheduleResponse `json:"schedule,omitempty"`
}

// ArrearsResponse represents a loan's arrears snapshot
type ArrearsResponse struct {
	Count          string `json:"arrears_count"`
	Amount         string `json:"arrears_amount"`
	DaysOverdue    int    `json:"days_overdue"`
	LateFeeDays    int    `json:"late_fee_days"`
	LateFeesDue    string `json:"late_fees_due"`
	TotalDue       string `json:"total_due"`
	ExpectedToDate string `json:"expected_to_date"`
	PaidToDate     string `json:"paid_to_date"`
}

// InterestQuoteResponse represents interest that would be accrued
type InterestQuoteResponse struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Days      int    `json:"days"`
	Base      string `json:"base"`
	DailyRate string `json:"daily_rate"`
	Interest  string `json:"interest"`
}

// DashboardResponse represents the portfolio summary
type DashboardResponse struct {
	ActiveLoans             int64  `json:"active_loans"`
	PortfolioBalance        string `json:"portfolio_balance"`
	OverdueLoans            int64  `json:"overdue_loans"`
	ArrearsRate             string `json:"arrears_rate"`
	InterestRecoveredMonth  string `json:"interest_recovered_month"`
	PrincipalRecoveredMonth string `json:"principal_recovered_month"`
	FeesRecoveredMonth      string `json:"fees_recovered_month"`
	GeneratedAt             string `json:"generated_at"`
}

// AuditRecordResponse represents one published loan event
type AuditRecordResponse struct {
	EventID      string `json:"event_id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	BalanceTotal string `json:"balance_total"`
	OccurredAt   string `json:"occurred_at"`
	Data         any    `json:"data,omitempty"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatDate(*t)
	return &s
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func mapLoanToResponse(l *loan.Loan) LoanResponse {
	return LoanResponse{
		ID:                   l.ID.String(),
		ClientID:             l.ClientID.String(),
		Code:                 l.Code,
		Status:               string(l.Status),
		StartDate:            formatDate(l.StartDate),
		MaturityDate:         formatDate(l.MaturityDate),
		Modality:             string(l.Modality),
		MonthlyRate:          l.MonthlyRate.String(),
		InterestMode:         string(l.InterestMode),
		InterestBase:         string(l.InterestBase),
		Convention:           l.Convention,
		InstallmentAmount:    money(l.InstallmentAmount),
		TargetTermPeriods:    l.TargetTermPeriods,
		PrincipalInitial:     money(l.PrincipalInitial),
		PrincipalOutstanding: money(l.PrincipalOutstanding),
		InterestAccrued:      money(l.InterestAccrued),
		FeesAccrued:          money(l.FeesAccrued),
		BalanceTotal:         money(l.BalanceTotal),
		LastAccrualDate:      formatDatePtr(l.LastAccrualDate),
		CancellationReason:   l.CancellationReason,
		CancellationDate:     formatDatePtr(l.CancellationDate),
		Version:              l.Version,
		CreatedAt:            l.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            l.UpdatedAt.Format(time.RFC3339),
	}
}

func mapPaymentToResponse(p *payment.Payment) PaymentResponse {
	return PaymentResponse{
		ID:               p.ID.String(),
		LoanID:           p.LoanID.String(),
		LedgerEntryID:    p.LedgerEntryID.String(),
		PaidAt:           formatDate(p.PaidAt),
		Amount:           money(p.Amount),
		Method:           p.Method,
		Reference:        p.Reference,
		Notes:            p.Notes,
		AppliedFees:      money(p.AppliedFees),
		AppliedInterest:  money(p.AppliedInterest),
		AppliedPrincipal: money(p.AppliedPrincipal),
		ExcessAmount:     money(p.ExcessAmount),
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
}

func mapEntryToResponse(e *ledger.Entry) LedgerEntryResponse {
	resp := LedgerEntryResponse{
		ID:             e.ID.String(),
		Seq:            e.Seq,
		Type:           string(e.Type),
		OccurredAt:     formatDate(e.OccurredAt),
		Amount:         money(e.Amount),
		PrincipalDelta: money(e.PrincipalDelta),
		InterestDelta:  money(e.InterestDelta),
		FeesDelta:      money(e.FeesDelta),
		BalanceAfter:   money(e.BalanceAfter),
		Meta:           e.Meta,
	}
	if e.PaymentID != nil {
		resp.PaymentID = e.PaymentID.String()
	}
	return resp
}

func mapScheduleToResponse(s *finance.Schedule) *ScheduleResponse {
	if s == nil {
		return nil
	}
	rows := make([]ScheduleRowResponse, 0, len(s.Rows))
	for _, r := range s.Rows {
		rows = append(rows, ScheduleRowResponse{
			Period:      r.Period,
			Date:        formatDate(r.Date),
			Installment: money(r.Installment),
			Interest:    money(r.Interest),
			Principal:   money(r.Principal),
			Balance:     money(r.Balance),
		})
	}
	return &ScheduleResponse{
		Rows:          rows,
		Periods:       s.Periods,
		MaturityDate:  formatDate(s.MaturityDate),
		TotalPaid:     money(s.TotalPaid),
		TotalInterest: money(s.TotalInterest),
		Truncated:     s.Truncated,
	}
}

func mapArrearsToResponse(a *finance.Arrears) ArrearsResponse {
	return ArrearsResponse{
		Count:          a.Count.StringFixed(4),
		Amount:         money(a.Amount),
		DaysOverdue:    a.DaysOverdue,
		LateFeeDays:    a.LateFeeDays,
		LateFeesDue:    money(a.LateFeesDue),
		TotalDue:       money(a.TotalDue),
		ExpectedToDate: money(a.ExpectedToDate),
		PaidToDate:     money(a.PaidToDate),
	}
}

func mapRefinanceToResponse(r *processor.RefinanceResult) RefinanceResponse {
	payoffs := make([]PayoffResponse, 0, len(r.Payoffs))
	for _, p := range r.Payoffs {
		payoffs = append(payoffs, PayoffResponse{
			LoanID:    p.LoanID.String(),
			Principal: money(p.Principal),
			Interest:  money(p.Interest),
			Fees:      money(p.Fees),
			Total:     money(p.Total),
		})
	}
	return RefinanceResponse{
		NewLoan:     mapLoanToResponse(r.NewLoan),
		Payoffs:     payoffs,
		TotalPayoff: money(r.TotalPayoff),
	}
}

func mapDashboardToResponse(d *processor.Dashboard) DashboardResponse {
	return DashboardResponse{
		ActiveLoans:             d.ActiveLoans,
		PortfolioBalance:        money(d.PortfolioBalance),
		OverdueLoans:            d.OverdueLoans,
		ArrearsRate:             d.ArrearsRate.StringFixed(1),
		InterestRecoveredMonth:  money(d.InterestRecoveredMonth),
		PrincipalRecoveredMonth: money(d.PrincipalRecoveredMonth),
		FeesRecoveredMonth:      money(d.FeesRecoveredMonth),
		GeneratedAt:             d.GeneratedAt.Format(time.RFC3339),
	}
}

func mapAuditToResponse(r *audit.Record) AuditRecordResponse {
	resp := AuditRecordResponse{
		EventID:      r.EventID.String(),
		Type:         string(r.Type),
		Status:       r.Status,
		BalanceTotal: r.BalanceTotal,
		OccurredAt:   r.OccurredAt.Format(time.RFC3339),
	}
	if len(r.Data) > 0 {
		resp.Data = r.Data
	}
	return resp
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
