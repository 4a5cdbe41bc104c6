package loan

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrLoanNotActive        = errors.New("loan is not active")
	ErrMissingClient        = errors.New("client id is required")
	ErrNonPositivePrincipal = errors.New("principal must be greater than zero")
	ErrNegativeRate         = errors.New("monthly rate cannot be negative")
	ErrInvalidModality      = errors.New("invalid modality")
	ErrInvalidInterestMode  = errors.New("invalid interest mode")
	ErrInvalidInterestBase  = errors.New("invalid interest base")
	ErrInvalidConvention    = errors.New("days in month convention must be 30 or 31")
	ErrMissingStartDate     = errors.New("start date is required")
	ErrNegativeLateFee      = errors.New("late fee daily amount cannot be negative")
	ErrNegativeGracePeriod  = errors.New("late fee grace period cannot be negative")
	ErrMissingReason        = errors.New("a reason is required")
)

// Status is the loan lifecycle state.
type Status string

const (
	StatusActive           Status = "active"
	StatusClosed           Status = "closed"
	StatusClosedRefinanced Status = "closed_refinanced"
	StatusCancelled        Status = "cancelled"
	StatusWrittenOff       Status = "written_off"
)

// Terminal reports whether no further accrual or payment may be applied.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Loan is the aggregate root. The cached balance fields always equal the
// running sum of the loan's ledger entry deltas.
type Loan struct {
	ID           uuid.UUID `json:"id"`
	ClientID     uuid.UUID `json:"client_id"`
	Code         string    `json:"code,omitempty"`
	Status       Status    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	MaturityDate time.Time `json:"maturity_date"`

	Modality          finance.Modality      `json:"modality"`
	MonthlyRate       decimal.Decimal       `json:"monthly_rate"`
	InterestMode      finance.InterestMode  `json:"interest_mode"`
	InterestBase      finance.InterestBase  `json:"interest_base"`
	Convention        int                   `json:"days_in_month_convention"`
	InstallmentAmount decimal.Decimal       `json:"installment_amount"`
	TargetTermPeriods *int                  `json:"target_term_periods,omitempty"`
	LateFees          finance.LateFeePolicy `json:"late_fees"`

	PrincipalInitial     decimal.Decimal `json:"principal_initial"`
	PrincipalOutstanding decimal.Decimal `json:"principal_outstanding"`
	InterestAccrued      decimal.Decimal `json:"interest_accrued"`
	FeesAccrued          decimal.Decimal `json:"fees_accrued"`
	BalanceTotal         decimal.Decimal `json:"balance_total"`
	LastAccrualDate      *time.Time      `json:"last_accrual_date,omitempty"`

	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancellationDate   *time.Time `json:"cancellation_date,omitempty"`

	Version   int       `json:"version"` // For optimistic locking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terms are the contractual parameters a new loan is opened with.
type Terms struct {
	ClientID          uuid.UUID
	Code              string
	Principal         decimal.Decimal
	StartDate         time.Time
	MaturityDate      time.Time
	Modality          finance.Modality
	MonthlyRate       decimal.Decimal
	InterestMode      finance.InterestMode
	InterestBase      finance.InterestBase
	Convention        int
	InstallmentAmount decimal.Decimal
	TargetTermPeriods *int
	LateFees          finance.LateFeePolicy
}

// Validate checks the terms independently of any derived values.
func (t Terms) Validate() error {
	switch {
	case t.ClientID == uuid.Nil:
		return ErrMissingClient
	case !t.Principal.IsPositive():
		return ErrNonPositivePrincipal
	case t.MonthlyRate.IsNegative():
		return ErrNegativeRate
	case !t.Modality.Valid():
		return ErrInvalidModality
	case !t.InterestMode.Valid():
		return ErrInvalidInterestMode
	case !t.InterestBase.Valid():
		return ErrInvalidInterestBase
	case !finance.ValidConvention(t.Convention):
		return ErrInvalidConvention
	case t.StartDate.IsZero():
		return ErrMissingStartDate
	case t.LateFees.DailyAmount != nil && t.LateFees.DailyAmount.IsNegative():
		return ErrNegativeLateFee
	case t.LateFees.GracePeriod != nil && *t.LateFees.GracePeriod < 0:
		return ErrNegativeGracePeriod
	}
	return nil
}

// NewLoan opens an active loan with empty balances. The disbursement ledger
// entry is what brings the principal onto the books.
func NewLoan(t Terms) (*Loan, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Loan{
		ID:                uuid.New(),
		ClientID:          t.ClientID,
		Code:              t.Code,
		Status:            StatusActive,
		StartDate:         finance.StartOfDay(t.StartDate),
		MaturityDate:      t.MaturityDate,
		Modality:          t.Modality,
		MonthlyRate:       t.MonthlyRate,
		InterestMode:      t.InterestMode,
		InterestBase:      t.InterestBase,
		Convention:        t.Convention,
		InstallmentAmount: t.InstallmentAmount,
		TargetTermPeriods: t.TargetTermPeriods,
		LateFees:          t.LateFees,
		PrincipalInitial:  t.Principal,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// IsActive reports whether the loan accepts accrual and payments.
func (l *Loan) IsActive() bool {
	return l.Status == StatusActive
}

// Watermark is the date interest has been accrued up to.
func (l *Loan) Watermark() time.Time {
	if l.LastAccrualDate != nil {
		return finance.StartOfDay(*l.LastAccrualDate)
	}
	return finance.StartOfDay(l.StartDate)
}

// SetWatermark moves the accrual watermark to the start of d.
func (l *Loan) SetWatermark(d time.Time) {
	day := finance.StartOfDay(d)
	l.LastAccrualDate = &day
}

// ApplyDeltas adds signed component deltas to the cached balances.
func (l *Loan) ApplyDeltas(principal, interest, fees decimal.Decimal) {
	l.PrincipalOutstanding = l.PrincipalOutstanding.Add(principal)
	l.InterestAccrued = l.InterestAccrued.Add(interest)
	l.FeesAccrued = l.FeesAccrued.Add(fees)
	l.BalanceTotal = l.BalanceTotal.Add(principal).Add(interest).Add(fees)
}

// RevertDeltas undoes ApplyDeltas. Subtraction is exact for every entry type
// because the cache is defined as the sum of entry deltas.
func (l *Loan) RevertDeltas(principal, interest, fees decimal.Decimal) {
	l.ApplyDeltas(principal.Neg(), interest.Neg(), fees.Neg())
}

// ComponentSum is principal + interest + fees.
func (l *Loan) ComponentSum() decimal.Decimal {
	return l.PrincipalOutstanding.Add(l.InterestAccrued).Add(l.FeesAccrued)
}

// Balanced reports whether balance_total matches its components within the
// closing tolerance.
func (l *Loan) Balanced() bool {
	return l.BalanceTotal.Sub(l.ComponentSum()).Abs().LessThanOrEqual(finance.ClosingTolerance)
}

// SettleIfPaid closes the loan when the balance is within the closing
// tolerance and reports whether it did.
func (l *Loan) SettleIfPaid() bool {
	if l.BalanceTotal.GreaterThan(finance.ClosingTolerance) {
		return false
	}
	l.Status = StatusClosed
	l.BalanceTotal = decimal.Zero
	return true
}

// Reopen returns a closed loan to active so replayed payments can be applied.
// The balance is re-derived from its components since closing zeroes it.
func (l *Loan) Reopen() bool {
	if l.Status != StatusClosed {
		return false
	}
	l.Status = StatusActive
	l.BalanceTotal = l.ComponentSum()
	return true
}

// MarkRefinanced zeroes the loan after a refinance payoff.
func (l *Loan) MarkRefinanced() error {
	if !l.IsActive() {
		return ErrLoanNotActive
	}
	l.zero()
	l.Status = StatusClosedRefinanced
	return nil
}

// Cancel terminates a loan that never received a payment.
func (l *Loan) Cancel(reason string, at time.Time) error {
	return l.terminate(StatusCancelled, reason, at)
}

// WriteOff terminates an uncollectible loan.
func (l *Loan) WriteOff(reason string, at time.Time) error {
	return l.terminate(StatusWrittenOff, reason, at)
}

func (l *Loan) terminate(status Status, reason string, at time.Time) error {
	if !l.IsActive() {
		return ErrLoanNotActive
	}
	if reason == "" {
		return ErrMissingReason
	}
	day := finance.StartOfDay(at)
	l.zero()
	l.Status = status
	l.CancellationReason = reason
	l.CancellationDate = &day
	return nil
}

func (l *Loan) zero() {
	l.PrincipalOutstanding = decimal.Zero
	l.InterestAccrued = decimal.Zero
	l.FeesAccrued = decimal.Zero
	l.BalanceTotal = decimal.Zero
}

// ArrearsInput adapts the loan to the arrears calculator.
func (l *Loan) ArrearsInput(paidToDate decimal.Decimal, now time.Time) finance.ArrearsInput {
	return finance.ArrearsInput{
		StartDate:   l.StartDate,
		Modality:    l.Modality,
		Installment: l.InstallmentAmount,
		LateFees:    l.LateFees,
		PaidToDate:  paidToDate,
		Now:         now,
	}
}

// RefinanceLink records that an old loan was paid off into a new one.
type RefinanceLink struct {
	ID           uuid.UUID       `json:"id"`
	ClientID     uuid.UUID       `json:"client_id"`
	NewLoanID    uuid.UUID       `json:"new_loan_id"`
	OldLoanID    uuid.UUID       `json:"old_loan_id"`
	PayoffAmount decimal.Decimal `json:"payoff_amount"`
	CreatedAt    time.Time       `json:"created_at"`
}
