package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	// ErrReplayLimitExceeded aborts a replay that would re-apply more
	// payments than the configured limit.
	ErrReplayLimitExceeded = errors.New("replay iteration limit exceeded")
	// ErrLedgerDivergence means the cached balances no longer match the
	// ledger. The enclosing transaction is rolled back.
	ErrLedgerDivergence = errors.New("loan balances diverge from ledger")
)

var calculatorFields = map[error]string{
	finance.ErrNonPositivePrincipal:   "principal",
	finance.ErrNegativeRate:           "monthly_rate",
	finance.ErrInvalidModality:        "modality",
	finance.ErrInvalidConvention:      "days_in_month_convention",
	finance.ErrInvalidTerm:            "term_periods",
	finance.ErrNonPositiveInstallment: "installment_amount",
}

// CalculatorError turns a finance calculator error into a ValidationError.
// An insufficient installment carries the suggested minimum in its details.
func CalculatorError(err error) error {
	var insufficient *finance.InsufficientInstallmentError
	if errors.As(err, &insufficient) {
		return &shared.ValidationError{
			Field:  "installment_amount",
			Reason: insufficient.Error(),
			Details: map[string]any{
				"period_interest": insufficient.PeriodInterest.StringFixed(2),
				"min_installment": insufficient.MinInstallment.StringFixed(2),
			},
		}
	}
	for sentinel, field := range calculatorFields {
		if errors.Is(err, sentinel) {
			return shared.NewValidationError(field, err.Error())
		}
	}
	return err
}

// RegisterPaymentRequest is a payment as received from a caller.
type RegisterPaymentRequest struct {
	LoanID        uuid.UUID
	PaidAt        time.Time
	Amount        decimal.Decimal
	Method        string
	Reference     string
	Notes         string
	CorrelationID string
}

// Validate checks the fields that do not need the loan.
func (r RegisterPaymentRequest) Validate() error {
	switch {
	case r.LoanID == uuid.Nil:
		return shared.NewValidationError("loan_id", "is required")
	case !r.Amount.IsPositive():
		return shared.NewValidationError("amount", "must be greater than zero")
	case r.Method == "":
		return shared.NewValidationError("method", "is required")
	case r.PaidAt.IsZero():
		return shared.NewValidationError("paid_at", "is required")
	}
	return nil
}

// HistoricalPayment is a payment imported together with a new loan.
type HistoricalPayment struct {
	PaidAt    time.Time
	Amount    decimal.Decimal
	Method    string
	Reference string
	Notes     string
}

// DisburseLoanRequest opens a loan. Installment, term and maturity are
// derived from each other when only some are given.
type DisburseLoanRequest struct {
	ClientID          uuid.UUID
	Code              string
	Principal         decimal.Decimal
	StartDate         time.Time
	MaturityDate      *time.Time
	Modality          finance.Modality
	MonthlyRate       decimal.Decimal
	InterestMode      finance.InterestMode
	Convention        int
	InstallmentAmount *decimal.Decimal
	TermPeriods       *int
	LateFees          finance.LateFeePolicy
	Payments          []HistoricalPayment
	CorrelationID     string
}

// RefinanceRequest pays off LoanIDs into a new loan of at least Principal.
type RefinanceRequest struct {
	ClientID      uuid.UUID
	LoanIDs       []uuid.UUID
	Principal     decimal.Decimal
	RefinanceDate time.Time
	Terms         DisburseLoanRequest
	CorrelationID string
}

// Payoff is what one old loan owed when it was refinanced.
type Payoff struct {
	LoanID    uuid.UUID       `json:"loan_id"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Fees      decimal.Decimal `json:"fees"`
	Total     decimal.Decimal `json:"total"`
}

// RefinanceResult is the new loan and the payoffs folded into it.
type RefinanceResult struct {
	NewLoan     *loan.Loan      `json:"new_loan"`
	Payoffs     []Payoff        `json:"payoffs"`
	TotalPayoff decimal.Decimal `json:"total_payoff"`
}

// InterestQuote describes an accrual without performing it.
type InterestQuote struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Days      int             `json:"days"`
	Base      decimal.Decimal `json:"base"`
	DailyRate decimal.Decimal `json:"daily_rate"`
	Interest  decimal.Decimal `json:"interest"`
}

// InstallmentQuote is the result of the installment calculator.
type InstallmentQuote struct {
	Installment decimal.Decimal   `json:"installment"`
	Schedule    *finance.Schedule `json:"schedule,omitempty"`
}

// ReplayOutcome reports what a register or remove did to the loan.
type ReplayOutcome struct {
	Payment          *payment.Payment
	RolledBack       int
	Replayed         int
	UnappliedReplays int
}

// Dashboard is the portfolio summary.
type Dashboard struct {
	ActiveLoans             int64           `json:"active_loans"`
	PortfolioBalance        decimal.Decimal `json:"portfolio_balance"`
	OverdueLoans            int64           `json:"overdue_loans"`
	ArrearsRate             decimal.Decimal `json:"arrears_rate"`
	InterestRecoveredMonth  decimal.Decimal `json:"interest_recovered_month"`
	PrincipalRecoveredMonth decimal.Decimal `json:"principal_recovered_month"`
	FeesRecoveredMonth      decimal.Decimal `json:"fees_recovered_month"`
	GeneratedAt             time.Time       `json:"generated_at"`
}

// BatchResult summarises a portfolio job.
type BatchResult struct {
	Processed int64         `json:"processed"`
	Affected  int64         `json:"affected"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}
