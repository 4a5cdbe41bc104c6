package finance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveInstallment = errors.New("installment must be greater than zero")

	settledBalance     = decimal.RequireFromString("0.05")
	finalPaymentSlack  = decimal.RequireFromString("0.10")
	minInstallmentLoad = decimal.RequireFromString("1.01")
)

// ScheduleParams is the input to GenerateSchedule.
type ScheduleParams struct {
	Principal              decimal.Decimal
	MonthlyRate            decimal.Decimal
	Modality               Modality
	Installment            decimal.Decimal
	StartDate              time.Time
	InterestMode           InterestMode
	Convention             int
	InitialAccruedInterest decimal.Decimal
}

// ScheduleRow is one projected installment.
type ScheduleRow struct {
	Period      int             `json:"period"`
	Date        time.Time       `json:"date"`
	Installment decimal.Decimal `json:"installment"`
	Interest    decimal.Decimal `json:"interest"`
	Principal   decimal.Decimal `json:"principal"`
	Balance     decimal.Decimal `json:"balance"`
}

// Schedule is a projected repayment plan.
type Schedule struct {
	Rows          []ScheduleRow   `json:"rows"`
	Periods       int             `json:"periods"`
	MaturityDate  time.Time       `json:"maturity_date"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	// Truncated is set when the projection stopped at MaxSchedulePeriods
	// with a balance still outstanding.
	Truncated bool `json:"truncated"`
}

// GenerateSchedule projects the repayment plan for a fixed installment. It
// never mutates anything.
//
// Simple loans charge interest on the principal still owed, compound loans
// on the running balance. Carried interest is netted first by each payment.
// An installment that cannot cover the first period's interest yields an
// *InsufficientInstallmentError.
func GenerateSchedule(p ScheduleParams) (*Schedule, error) {
	if err := (InstallmentParams{
		Principal:    p.Principal,
		MonthlyRate:  p.MonthlyRate,
		Modality:     p.Modality,
		InterestMode: p.InterestMode,
		Convention:   p.Convention,
	}).validate(); err != nil {
		return nil, err
	}
	if !p.Installment.IsPositive() {
		return nil, ErrNonPositiveInstallment
	}

	periodRate := PeriodRate(p.MonthlyRate, p.Modality, p.Convention)
	firstInterest := p.Principal.Mul(periodRate)
	if p.Installment.LessThanOrEqual(firstInterest) {
		return nil, &InsufficientInstallmentError{
			Installment:    p.Installment,
			PeriodInterest: Round2(firstInterest),
			MinInstallment: firstInterest.Mul(minInstallmentLoad).Ceil(),
		}
	}

	carried := p.InitialAccruedInterest
	if carried.IsNegative() {
		carried = decimal.Zero
	}
	principalBase := p.Principal
	balance := p.Principal.Add(carried)
	date := p.StartDate

	sched := &Schedule{MaturityDate: p.StartDate}

	for period := 1; balance.GreaterThan(settledBalance) && period <= MaxSchedulePeriods; period++ {
		base := balance
		if p.InterestMode == InterestSimple {
			base = principalBase
		}
		interest := base.Mul(periodRate)

		amount := p.Installment
		if closing := balance.Add(interest); closing.LessThanOrEqual(p.Installment.Add(finalPaymentSlack)) {
			amount = closing
		}

		remaining := amount
		carriedPaid := decimal.Min(remaining, carried)
		remaining = remaining.Sub(carriedPaid)
		carried = carried.Sub(carriedPaid)

		interestPaid := decimal.Min(remaining, interest)
		remaining = remaining.Sub(interestPaid)
		carried = carried.Add(interest.Sub(interestPaid))

		principalPaid := decimal.Min(remaining, principalBase)
		principalBase = principalBase.Sub(principalPaid)
		balance = balance.Add(interest).Sub(amount)

		date = AdvanceDue(date, p.Modality)

		row := ScheduleRow{
			Period:      period,
			Date:        date,
			Installment: Round2(amount),
			Interest:    Round2(carriedPaid.Add(interestPaid)),
			Principal:   Round2(principalPaid),
			Balance:     decimal.Max(decimal.Zero, Round2(balance)),
		}
		sched.Rows = append(sched.Rows, row)
		sched.TotalPaid = sched.TotalPaid.Add(row.Installment)
		sched.TotalInterest = sched.TotalInterest.Add(row.Interest)
	}

	sched.Periods = len(sched.Rows)
	if sched.Periods > 0 {
		sched.MaturityDate = sched.Rows[sched.Periods-1].Date
	}
	sched.Truncated = balance.GreaterThan(settledBalance)

	return sched, nil
}
