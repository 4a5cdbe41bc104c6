package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArrearsInput is the loan state the arrears computation reads.
type ArrearsInput struct {
	StartDate   time.Time
	Modality    Modality
	Installment decimal.Decimal
	LateFees    LateFeePolicy
	// PaidToDate is the sum of payment ledger entry amounts.
	PaidToDate decimal.Decimal
	Now        time.Time
}

// Arrears summarises how far behind schedule a loan is.
type Arrears struct {
	Count          decimal.Decimal `json:"count"`
	Amount         decimal.Decimal `json:"amount"`
	DaysOverdue    int             `json:"days_overdue"`
	LateFeeDays    int             `json:"late_fee_days"`
	LateFeesDue    decimal.Decimal `json:"late_fees_due"`
	TotalDue       decimal.Decimal `json:"total_due"`
	ExpectedToDate decimal.Decimal `json:"expected_to_date"`
	PaidToDate     decimal.Decimal `json:"paid_to_date"`
}

// Overdue reports whether any installment amount is unpaid.
func (a Arrears) Overdue() bool {
	return a.Amount.IsPositive()
}

// ComputeArrears compares installments due strictly before today with what
// was paid. A due date falling on today is not overdue yet.
func ComputeArrears(in ArrearsInput, settings LateFeeSettings) Arrears {
	out := Arrears{PaidToDate: in.PaidToDate}
	if !in.Installment.IsPositive() {
		return out
	}

	now := StartOfDay(in.Now)
	due := DueDatesBefore(StartOfDay(in.StartDate), in.Modality, now)
	if len(due) == 0 {
		return out
	}

	expected := in.Installment.Mul(decimal.NewFromInt(int64(len(due))))
	arrears := decimal.Max(decimal.Zero, expected.Sub(in.PaidToDate))

	out.ExpectedToDate = expected
	out.Amount = arrears
	out.Count = arrears.Div(in.Installment).Round(1)

	covered := int(in.PaidToDate.Div(in.Installment).Floor().IntPart())
	if covered >= 0 && covered < len(due) {
		firstUnpaid := due[covered]
		out.DaysOverdue = CalendarDays(firstUnpaid, now)

		if in.LateFees.Enabled && arrears.IsPositive() {
			late := WeekdaysBetween(firstUnpaid, now) - settings.Grace(in.LateFees)
			if late > 0 {
				out.LateFeeDays = late
				out.LateFeesDue = Round2(settings.DailyFee(in.LateFees).Mul(decimal.NewFromInt(int64(late))))
			}
		}
	}

	out.TotalDue = arrears.Add(out.LateFeesDue)
	return out
}
