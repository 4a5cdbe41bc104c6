// Package finance holds the pure loan arithmetic: day-count conventions,
// due date generation, installment sizing, amortization projection and
// arrears. Nothing in this package touches storage.
package finance

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Modality is the repayment frequency of a loan.
type Modality string

const (
	ModalityDaily    Modality = "daily"
	ModalityWeekly   Modality = "weekly"
	ModalityBiweekly Modality = "biweekly"
	ModalityMonthly  Modality = "monthly"
)

// Valid reports whether the modality is one of the supported frequencies.
func (m Modality) Valid() bool {
	switch m {
	case ModalityDaily, ModalityWeekly, ModalityBiweekly, ModalityMonthly:
		return true
	}
	return false
}

// InterestMode selects how the accrual base is chosen.
type InterestMode string

const (
	InterestSimple   InterestMode = "simple"
	InterestCompound InterestMode = "compound"
)

func (m InterestMode) Valid() bool {
	return m == InterestSimple || m == InterestCompound
}

// InterestBase is the compound accrual base.
type InterestBase string

const (
	BasePrincipal    InterestBase = "principal"
	BaseTotalBalance InterestBase = "total_balance"
)

func (b InterestBase) Valid() bool {
	return b == BasePrincipal || b == BaseTotalBalance
}

// Day-count conventions. Convention30360 counts every month as 30 days,
// ConventionActual counts calendar days.
const (
	Convention30360  = 30
	ConventionActual = 31
)

// ValidConvention reports whether c is a supported day-count convention.
func ValidConvention(c int) bool {
	return c == Convention30360 || c == ConventionActual
}

const (
	// MaxSchedulePeriods bounds the amortization projection.
	MaxSchedulePeriods = 600
	// DefaultGracePeriod is used when neither the loan nor the settings define one.
	DefaultGracePeriod = 3
)

var (
	hundred = decimal.NewFromInt(100)

	// ClosingTolerance is the balance under which a loan counts as paid off.
	ClosingTolerance = decimal.RequireFromString("0.01")
)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// DailyRate returns (monthlyRate/100)/convention.
func DailyRate(monthlyRate decimal.Decimal, convention int) decimal.Decimal {
	return monthlyRate.Div(hundred).Div(decimal.NewFromInt(int64(convention)))
}

// PeriodRate returns the rate for one installment period. The multiplication
// happens before the division by the convention to keep 30-day periods exact.
func PeriodRate(monthlyRate decimal.Decimal, modality Modality, convention int) decimal.Decimal {
	days := decimal.NewFromInt(int64(DaysInPeriod(modality, convention)))
	return monthlyRate.Div(hundred).Mul(days).Div(decimal.NewFromInt(int64(convention)))
}

// AccrueInterest returns round(base*dailyRate*days, 2).
func AccrueInterest(base, monthlyRate decimal.Decimal, days, convention int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}
	raw := base.Mul(monthlyRate).Mul(decimal.NewFromInt(int64(days))).
		Div(hundred.Mul(decimal.NewFromInt(int64(convention))))
	return Round2(raw)
}

// LateFeeSettings is the portfolio-wide late fee configuration. Loans may
// override both values.
type LateFeeSettings struct {
	DailyAmount decimal.Decimal
	GracePeriod int
}

// LateFeePolicy is the per-loan late fee configuration.
type LateFeePolicy struct {
	Enabled     bool
	DailyAmount *decimal.Decimal
	GracePeriod *int
}

// DailyFee resolves the fee charged per business day.
func (s LateFeeSettings) DailyFee(p LateFeePolicy) decimal.Decimal {
	if p.DailyAmount != nil {
		return *p.DailyAmount
	}
	return s.DailyAmount
}

// Grace resolves the grace period in business days, never negative.
func (s LateFeeSettings) Grace(p LateFeePolicy) int {
	g := s.GracePeriod
	if p.GracePeriod != nil {
		g = *p.GracePeriod
	}
	if g < 0 {
		return 0
	}
	return g
}

// InsufficientInstallmentError is returned when an installment cannot cover
// the first period's interest and the loan would never amortize.
type InsufficientInstallmentError struct {
	Installment    decimal.Decimal
	PeriodInterest decimal.Decimal
	MinInstallment decimal.Decimal
}

func (e *InsufficientInstallmentError) Error() string {
	return fmt.Sprintf("installment %s does not cover period interest %s, minimum suggested installment is %s",
		e.Installment.StringFixed(2), e.PeriodInterest.StringFixed(2), e.MinInstallment.StringFixed(2))
}
