package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func installmentLoan() service.DisburseLoanRequest {
	request := loanRequest()
	request.InstallmentAmount = decPtr("200")
	return request
}

func TestLoanService_DisburseLoan(t *testing.T) {
	ctx := context.Background()

	t.Run("opens the loan", func(t *testing.T) {
		h := newHarness()

		l, err := h.loans.DisburseLoan(ctx, loanRequest())
		require.NoError(t, err)
		assert.Equal(t, loan.StatusActive, l.Status)
		assertDec(t, "1000", l.BalanceTotal)

		stored, err := h.loans.GetLoan(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, l.Version, stored.Version)
		assert.Len(t, h.store.Entries(l.ID), 1)
		assert.Equal(t, []shared.EventType{shared.EventLoanDisbursed}, h.store.EventTypes())
	})

	t.Run("historical payments that settle the loan", func(t *testing.T) {
		h := newHarness()
		request := loanRequest()
		request.Payments = []service.HistoricalPayment{
			{PaidAt: day("2025-01-31"), Amount: dec("600"), Method: "cash"},
			{PaidAt: day("2025-02-28"), Amount: dec("600"), Method: "cash"},
		}

		l, err := h.loans.DisburseLoan(ctx, request)
		require.NoError(t, err)
		assert.Equal(t, loan.StatusClosed, l.Status)
		assert.Equal(t, loan.StatusClosed, h.store.Loan(l.ID).Status)
		assert.Equal(t, []shared.EventType{shared.EventLoanDisbursed, shared.EventLoanClosed}, h.store.EventTypes())
	})

	t.Run("invalid terms leave nothing behind", func(t *testing.T) {
		h := newHarness()
		request := loanRequest()
		request.Principal = dec("0")

		_, err := h.loans.DisburseLoan(ctx, request)
		var validationErr *shared.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "principal", validationErr.Field)
		assert.Empty(t, h.store.Messages())
	})
}

func TestLoanService_ListLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	l := h.disburse(t, loanRequest())
	h.register(t, l.ID, "2025-01-31", "150")

	entries, total, err := h.loans.ListLedger(ctx, l.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.TypeDisbursement, entries[0].Type)
	assert.Equal(t, ledger.TypeInterestAccrual, entries[1].Type)

	_, _, err = h.loans.ListLedger(ctx, uuid.New(), 10, 0)
	assert.ErrorIs(t, err, loan.ErrLoanNotFound{})
}

func TestLoanService_AccrueInterest(t *testing.T) {
	ctx := context.Background()

	t.Run("accrues and is idempotent", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())

		accrued, err := h.loans.AccrueInterest(ctx, l.ID, day("2025-01-31"))
		require.NoError(t, err)
		assertDec(t, "100", accrued.InterestAccrued)
		assertDec(t, "1100", accrued.BalanceTotal)
		assert.Equal(t, day("2025-01-31"), accrued.Watermark())
		assert.Equal(t, l.Version+1, accrued.Version)
		assert.Equal(t, []shared.EventType{shared.EventLoanDisbursed, shared.EventLoanAccrued}, h.store.EventTypes())

		again, err := h.loans.AccrueInterest(ctx, l.ID, day("2025-01-31"))
		require.NoError(t, err)
		assert.Equal(t, accrued.Version, again.Version)
		assertDec(t, "1100", again.BalanceTotal)

		earlier, err := h.loans.AccrueInterest(ctx, l.ID, day("2025-01-15"))
		require.NoError(t, err)
		assert.Equal(t, accrued.Version, earlier.Version)
		assert.Len(t, h.store.Entries(l.ID), 2)
		assert.Len(t, h.store.Messages(), 2)
	})

	t.Run("posts late fees after interest", func(t *testing.T) {
		h := newHarness(withSettings(finance.LateFeeSettings{DailyAmount: dec("5"), GracePeriod: 0}))
		request := installmentLoan()
		request.LateFees = finance.LateFeePolicy{Enabled: true}
		l := h.disburse(t, request)

		accrued, err := h.loans.AccrueInterest(ctx, l.ID, day("2025-02-07"))
		require.NoError(t, err)
		assertDec(t, "120", accrued.InterestAccrued)
		assertDec(t, "25", accrued.FeesAccrued)
		assertDec(t, "1145", accrued.BalanceTotal)

		messages := h.store.Messages()
		event, err := messages[len(messages)-1].Event()
		require.NoError(t, err)
		var body struct {
			Interest    string `json:"interest"`
			LateFeeDays int    `json:"late_fee_days"`
			LateFees    string `json:"late_fees"`
		}
		require.NoError(t, json.Unmarshal(event.Data, &body))
		assertDec(t, "120", dec(body.Interest))
		assert.Equal(t, 5, body.LateFeeDays)
		assertDec(t, "25", dec(body.LateFees))
	})

	t.Run("closed loan", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())
		h.register(t, l.ID, "2025-01-31", "1100")

		_, err := h.loans.AccrueInterest(ctx, l.ID, day("2025-02-28"))
		assert.ErrorIs(t, err, loan.ErrLoanNotActive)
	})
}

func TestLoanService_PeekPendingInterest(t *testing.T) {
	h := newHarness()
	l := h.disburse(t, loanRequest())

	quote, err := h.loans.PeekPendingInterest(context.Background(), l.ID, day("2025-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 30, quote.Days)
	assertDec(t, "100", quote.Interest)
	assert.Len(t, h.store.Entries(l.ID), 1)
}

func TestLoanService_ComputeArrears(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing paid", func(t *testing.T) {
		h := newHarness(withNow(day("2025-03-15")))
		l := h.disburse(t, installmentLoan())

		a, err := h.loans.ComputeArrears(ctx, l.ID)
		require.NoError(t, err)
		assert.True(t, a.Overdue())
		assertDec(t, "400", a.Amount)
		assertDec(t, "2", a.Count)
		assert.Equal(t, 42, a.DaysOverdue)
	})

	t.Run("partly paid", func(t *testing.T) {
		h := newHarness(withNow(day("2025-03-15")))
		l := h.disburse(t, installmentLoan())
		h.register(t, l.ID, "2025-01-31", "250")

		a, err := h.loans.ComputeArrears(ctx, l.ID)
		require.NoError(t, err)
		assertDec(t, "150", a.Amount)
		assertDec(t, "0.8", a.Count)
		assertDec(t, "250", a.PaidToDate)
		assert.Equal(t, 14, a.DaysOverdue)
	})

	t.Run("closed loans have no arrears", func(t *testing.T) {
		h := newHarness(withNow(day("2025-03-15")))
		l := h.disburse(t, installmentLoan())
		h.register(t, l.ID, "2025-01-31", "1100")

		a, err := h.loans.ComputeArrears(ctx, l.ID)
		require.NoError(t, err)
		assert.False(t, a.Overdue())
	})
}

func TestLoanService_FlagOverdue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(withNow(day("2025-03-15")))
	late := h.disburse(t, installmentLoan())
	open := h.disburse(t, loanRequest())

	flagged, err := h.loans.FlagOverdue(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, flagged)

	flagged, err = h.loans.FlagOverdue(ctx, open.ID)
	require.NoError(t, err)
	assert.False(t, flagged)

	types := h.store.EventTypes()
	assert.Equal(t, shared.EventLoanOverdue, types[len(types)-1])
	assert.Len(t, types, 3)
}

func TestLoanService_CancelOrWriteOff(t *testing.T) {
	ctx := context.Background()

	t.Run("loan without payments is cancelled", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())

		cancelled, err := h.loans.CancelOrWriteOff(ctx, l.ID, "  duplicate contract ", day("2025-01-20"))
		require.NoError(t, err)
		assert.Equal(t, loan.StatusCancelled, cancelled.Status)
		assert.Equal(t, "duplicate contract", cancelled.CancellationReason)
		assert.True(t, cancelled.BalanceTotal.IsZero())

		entries := h.store.Entries(l.ID)
		require.Len(t, entries, 2)
		assert.Equal(t, ledger.TypeCancellation, entries[1].Type)
		assertDec(t, "1000", entries[1].Amount)
		assertDec(t, "-1000", entries[1].PrincipalDelta)
		assert.Equal(t, "duplicate contract", entries[1].Meta["reason"])
		require.NoError(t, h.rewinder.Reconcile(ctx, nil, cancelled))

		types := h.store.EventTypes()
		assert.Equal(t, shared.EventLoanCancelled, types[len(types)-1])
	})

	t.Run("loan with payments is accrued and written off", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())
		h.register(t, l.ID, "2025-01-31", "150")

		writtenOff, err := h.loans.CancelOrWriteOff(ctx, l.ID, "client unreachable", day("2025-02-15"))
		require.NoError(t, err)
		assert.Equal(t, loan.StatusWrittenOff, writtenOff.Status)
		require.NotNil(t, writtenOff.CancellationDate)
		assert.Equal(t, day("2025-02-15"), *writtenOff.CancellationDate)

		entries := h.store.Entries(l.ID)
		last := entries[len(entries)-1]
		assert.Equal(t, ledger.TypeWriteOff, last.Type)
		// 950 principal plus 15 days of interest on the initial principal.
		assertDec(t, "1000", last.Amount)
		assertDec(t, "-50", last.InterestDelta)
		require.NoError(t, h.rewinder.Reconcile(ctx, nil, writtenOff))

		types := h.store.EventTypes()
		assert.Equal(t, shared.EventLoanWrittenOff, types[len(types)-1])
	})

	t.Run("rejections", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())

		_, err := h.loans.CancelOrWriteOff(ctx, l.ID, " ", day("2025-01-20"))
		var validationErr *shared.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "reason", validationErr.Field)

		_, err = h.loans.CancelOrWriteOff(ctx, l.ID, "typo", day("2024-12-20"))
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "date", validationErr.Field)

		_, err = h.loans.CancelOrWriteOff(ctx, l.ID, "typo", day("2025-01-20"))
		require.NoError(t, err)
		_, err = h.loans.CancelOrWriteOff(ctx, l.ID, "typo", day("2025-01-20"))
		assert.ErrorIs(t, err, loan.ErrLoanNotActive)
	})
}

func TestLoanService_Dashboard(t *testing.T) {
	ctx := context.Background()
	now := day("2025-02-20")
	h := newHarness(withNow(now))

	h.disburse(t, installmentLoan())
	paying := h.disburse(t, loanRequest())
	// 39 days of interest is 130.
	h.register(t, paying.ID, "2025-02-10", "150")
	cancelled := h.disburse(t, loanRequest())
	_, err := h.loans.CancelOrWriteOff(ctx, cancelled.ID, "duplicate", day("2025-01-05"))
	require.NoError(t, err)

	dashboard, err := h.loans.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dashboard.ActiveLoans)
	assertDec(t, "1980", dashboard.PortfolioBalance)
	assert.Equal(t, int64(1), dashboard.OverdueLoans)
	assertDec(t, "50", dashboard.ArrearsRate)
	assertDec(t, "130", dashboard.InterestRecoveredMonth)
	assertDec(t, "20", dashboard.PrincipalRecoveredMonth)
	assert.True(t, dashboard.FeesRecoveredMonth.IsZero())
	assert.Equal(t, now, dashboard.GeneratedAt)
}

func TestLoanService_Calculators(t *testing.T) {
	h := newHarness(withNow(day("2025-01-01")))

	t.Run("schedule with defaults", func(t *testing.T) {
		schedule, err := h.loans.ProjectSchedule(finance.ScheduleParams{
			Principal:   dec("1000"),
			MonthlyRate: dec("0"),
			Modality:    finance.ModalityMonthly,
			Installment: dec("250"),
			StartDate:   day("2025-01-01"),
		})
		require.NoError(t, err)
		assert.Equal(t, 4, schedule.Periods)
	})

	t.Run("schedule rejects a zero installment", func(t *testing.T) {
		_, err := h.loans.ProjectSchedule(finance.ScheduleParams{
			Principal:   dec("1000"),
			MonthlyRate: dec("10"),
			Modality:    finance.ModalityMonthly,
			StartDate:   day("2025-01-01"),
		})
		var validationErr *shared.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "installment_amount", validationErr.Field)
	})

	t.Run("installment with projected schedule", func(t *testing.T) {
		term := 4
		quote, err := h.loans.CalculateInstallment(finance.InstallmentParams{
			Principal:   dec("1000"),
			MonthlyRate: dec("0"),
			Modality:    finance.ModalityMonthly,
			TermPeriods: &term,
		})
		require.NoError(t, err)
		assertDec(t, "250", quote.Installment)
		require.NotNil(t, quote.Schedule)
		assert.Equal(t, 4, quote.Schedule.Periods)
	})

	t.Run("installment rejects a bad modality", func(t *testing.T) {
		term := 4
		_, err := h.loans.CalculateInstallment(finance.InstallmentParams{
			Principal:   dec("1000"),
			MonthlyRate: dec("10"),
			Modality:    "yearly",
			TermPeriods: &term,
		})
		var validationErr *shared.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "modality", validationErr.Field)
	})
}
