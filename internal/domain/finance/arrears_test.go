package finance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testSettings = LateFeeSettings{DailyAmount: dec("5"), GracePeriod: DefaultGracePeriod}

func TestComputeArrears_NoInstallment(t *testing.T) {
	got := ComputeArrears(ArrearsInput{StartDate: date(2024, 1, 1), Modality: ModalityMonthly, Now: date(2024, 6, 1)}, testSettings)
	assert.True(t, got.Amount.IsZero())
	assert.True(t, got.Count.IsZero())
	assert.False(t, got.Overdue())
}

func TestComputeArrears_LoanStartingToday(t *testing.T) {
	today := date(2024, 5, 10)
	got := ComputeArrears(ArrearsInput{
		StartDate:   today,
		Modality:    ModalityMonthly,
		Installment: dec("100"),
		Now:         today.Add(15 * time.Hour),
	}, testSettings)

	assert.True(t, got.Count.IsZero())
	assert.True(t, got.TotalDue.IsZero())
}

func TestComputeArrears_PaidBeforeFirstDueDate(t *testing.T) {
	got := ComputeArrears(ArrearsInput{
		StartDate:   date(2024, 1, 1),
		Modality:    ModalityMonthly,
		Installment: dec("100"),
		PaidToDate:  dec("40"),
		Now:         date(2024, 1, 20),
	}, testSettings)

	assert.True(t, dec("40").Equal(got.PaidToDate))
	assert.True(t, got.ExpectedToDate.IsZero())
	assert.True(t, got.TotalDue.IsZero())
}

func TestComputeArrears_DueTodayIsNotOverdue(t *testing.T) {
	got := ComputeArrears(ArrearsInput{
		StartDate:   date(2024, 1, 1),
		Modality:    ModalityMonthly,
		Installment: dec("100"),
		Now:         date(2024, 2, 1),
	}, testSettings)

	assert.True(t, got.Count.IsZero())
}

func TestComputeArrears_PartialPaymentWithLateFees(t *testing.T) {
	got := ComputeArrears(ArrearsInput{
		StartDate:   date(2024, 1, 1),
		Modality:    ModalityMonthly,
		Installment: dec("100"),
		LateFees:    LateFeePolicy{Enabled: true},
		PaidToDate:  dec("150"),
		Now:         date(2024, 4, 10),
	}, testSettings)

	assert.True(t, dec("300").Equal(got.ExpectedToDate))
	assert.True(t, dec("150").Equal(got.PaidToDate))
	assert.True(t, dec("150").Equal(got.Amount))
	assert.True(t, dec("1.5").Equal(got.Count))
	assert.Equal(t, 40, got.DaysOverdue, "counted from the March 1 installment")
	assert.Equal(t, 25, got.LateFeeDays, "28 business days minus 3 days of grace")
	assert.True(t, dec("125").Equal(got.LateFeesDue))
	assert.True(t, dec("275").Equal(got.TotalDue))
}

func TestComputeArrears_LoanOverrides(t *testing.T) {
	fee := dec("2.5")
	grace := 0
	got := ComputeArrears(ArrearsInput{
		StartDate:   date(2024, 1, 1),
		Modality:    ModalityMonthly,
		Installment: dec("100"),
		LateFees:    LateFeePolicy{Enabled: true, DailyAmount: &fee, GracePeriod: &grace},
		Now:         date(2024, 2, 8),
	}, testSettings)

	assert.Equal(t, 7, got.DaysOverdue)
	assert.Equal(t, 5, got.LateFeeDays)
	assert.True(t, dec("12.5").Equal(got.LateFeesDue))
}

func TestComputeArrears_FullyPaid(t *testing.T) {
	got := ComputeArrears(ArrearsInput{
		StartDate:   date(2024, 1, 1),
		Modality:    ModalityMonthly,
		Installment: dec("100"),
		LateFees:    LateFeePolicy{Enabled: true},
		PaidToDate:  dec("500"),
		Now:         date(2024, 4, 10),
	}, testSettings)

	assert.True(t, got.Amount.IsZero())
	assert.Equal(t, 0, got.DaysOverdue)
	assert.True(t, got.TotalDue.Equal(decimal.Zero))
}
