package components

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/loan_processor/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *testutil.Store
	interest   service.InterestEngine
	lateFees   service.LateFeeEngine
	rewinder   service.LedgerRewinder
	replay     service.ReplayEngine
	originator service.LoanOriginator
}

func newFixture(maxIterations int, settings finance.LateFeeSettings) *fixture {
	store := testutil.NewStore()
	logger := slog.Default()

	interest := NewInterestEngine(store.Ledger(), nil, logger)
	lateFees := NewLateFeeEngine(store.Ledger(), settings, nil, logger)
	rewinder := NewLedgerRewinder(store.Ledger(), logger)
	replay := NewReplayEngine(store.Payments(), store.Ledger(), interest, lateFees, rewinder, maxIterations, nil, logger)

	return &fixture{
		store:      store,
		interest:   interest,
		lateFees:   lateFees,
		rewinder:   rewinder,
		replay:     replay,
		originator: NewLoanOriginator(store.Loans(), store.Ledger(), replay, logger),
	}
}

func (f *fixture) open(t *testing.T, request service.DisburseLoanRequest) *loan.Loan {
	t.Helper()
	l, _, err := f.originator.Originate(context.Background(), nil, request, nil)
	require.NoError(t, err)
	return l
}

func (f *fixture) pay(t *testing.T, l *loan.Loan, paidAt, amount string) (*payment.Payment, *service.ReplayOutcome) {
	t.Helper()
	p := &payment.Payment{PaidAt: day(paidAt), Amount: dec(amount), Method: "cash"}
	outcome, err := f.replay.Register(context.Background(), nil, l, p)
	require.NoError(t, err)
	require.NoError(t, f.rewinder.Reconcile(context.Background(), nil, l))
	return p, outcome
}

// simpleLoan is 1000 at 10% a month, simple interest, 30/360, monthly.
func simpleLoan() service.DisburseLoanRequest {
	return service.DisburseLoanRequest{
		ClientID:     uuid.New(),
		Principal:    dec("1000"),
		StartDate:    day("2025-01-01"),
		Modality:     finance.ModalityMonthly,
		MonthlyRate:  dec("10"),
		InterestMode: finance.InterestSimple,
		Convention:   finance.Convention30360,
	}
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(expected).Equal(actual), "expected %s, got %s %v", expected, actual.String(), msgAndArgs)
}

func intPtr(n int) *int { return &n }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
