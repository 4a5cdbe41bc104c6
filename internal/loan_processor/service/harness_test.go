package service_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/loan_processor/components"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/loan_processor/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store      *testutil.Store
	loanRepo   loan.Repository
	payments   service.PaymentService
	loans      service.LoanService
	refinances service.RefinanceService
	rewinder   service.LedgerRewinder
}

type harnessConfig struct {
	maxIterations int
	settings      finance.LateFeeSettings
	now           time.Time
	loanRepo      func(*testutil.Store, loan.Repository) loan.Repository
	ledgerRepo    func(ledger.Repository) ledger.Repository
}

type option func(*harnessConfig)

func withMaxIterations(n int) option {
	return func(c *harnessConfig) { c.maxIterations = n }
}

func withSettings(s finance.LateFeeSettings) option {
	return func(c *harnessConfig) { c.settings = s }
}

func withNow(now time.Time) option {
	return func(c *harnessConfig) { c.now = now }
}

func withLoanRepo(wrap func(*testutil.Store, loan.Repository) loan.Repository) option {
	return func(c *harnessConfig) { c.loanRepo = wrap }
}

// withReconcileLedger replaces the ledger the rewinder reconciles against.
func withReconcileLedger(wrap func(ledger.Repository) ledger.Repository) option {
	return func(c *harnessConfig) { c.ledgerRepo = wrap }
}

func newHarness(opts ...option) *harness {
	cfg := harnessConfig{maxIterations: 100, now: day("2025-03-15")}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := testutil.NewStore()
	logger := slog.Default()

	loanRepo := store.Loans()
	if cfg.loanRepo != nil {
		loanRepo = cfg.loanRepo(store, loanRepo)
	}
	reconcileLedger := store.Ledger()
	if cfg.ledgerRepo != nil {
		reconcileLedger = cfg.ledgerRepo(reconcileLedger)
	}

	interest := components.NewInterestEngine(store.Ledger(), nil, logger)
	lateFees := components.NewLateFeeEngine(store.Ledger(), cfg.settings, nil, logger)
	rewinder := components.NewLedgerRewinder(reconcileLedger, logger)
	replay := components.NewReplayEngine(store.Payments(), store.Ledger(), interest, lateFees, rewinder, cfg.maxIterations, nil, logger)
	originator := components.NewLoanOriginator(loanRepo, store.Ledger(), replay, logger)
	outboxManager := components.NewOutboxManager(store.Outbox(), logger)

	now := cfg.now
	return &harness{
		store:    store,
		loanRepo: loanRepo,
		rewinder: rewinder,
		payments: service.NewPaymentService(store, loanRepo, store.Payments(), replay, rewinder, outboxManager, nil, logger),
		loans: service.NewLoanService(service.LoanServiceDeps{
			TxRunner:      store,
			LoanRepo:      loanRepo,
			LedgerRepo:    store.Ledger(),
			PaymentRepo:   store.Payments(),
			Interest:      interest,
			LateFees:      lateFees,
			Rewinder:      rewinder,
			Originator:    originator,
			OutboxManager: outboxManager,
			Settings:      cfg.settings,
			Logger:        logger,
			Clock:         func() time.Time { return now },
		}),
		refinances: service.NewRefinanceService(store, loanRepo, store.Ledger(), interest, lateFees, rewinder, originator, outboxManager, logger),
	}
}

func (h *harness) disburse(t *testing.T, request service.DisburseLoanRequest) *loan.Loan {
	t.Helper()
	l, err := h.loans.DisburseLoan(context.Background(), request)
	require.NoError(t, err)
	return l
}

func (h *harness) register(t *testing.T, loanID uuid.UUID, paidAt, amount string) {
	t.Helper()
	_, err := h.payments.RegisterPayment(context.Background(), paymentRequest(loanID, paidAt, amount))
	require.NoError(t, err)
}

func paymentRequest(loanID uuid.UUID, paidAt, amount string) service.RegisterPaymentRequest {
	return service.RegisterPaymentRequest{
		LoanID: loanID,
		PaidAt: day(paidAt),
		Amount: dec(amount),
		Method: "transfer",
	}
}

// loanRequest is 1000 at 10% a month, simple interest, 30/360, monthly.
func loanRequest() service.DisburseLoanRequest {
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

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertDec(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual.String())
}

// racingLoanRepo bumps the stored version right after every read, as if
// another writer committed in between.
type racingLoanRepo struct {
	loan.Repository
	store *testutil.Store
}

func (r *racingLoanRepo) WithTx(pgx.Tx) loan.Repository { return r }

func (r *racingLoanRepo) GetByID(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	l, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	other := *l
	other.Version++
	r.store.PutLoan(&other)
	return l, nil
}

// driftingLedger reports one extra unit of principal on top of the real sums
// once switched on.
type driftingLedger struct {
	ledger.Repository
	on bool
}

func (r *driftingLedger) WithTx(pgx.Tx) ledger.Repository { return r }

func (r *driftingLedger) SumDeltas(ctx context.Context, loanID uuid.UUID) (ledger.Totals, error) {
	totals, err := r.Repository.SumDeltas(ctx, loanID)
	if err != nil || !r.on {
		return totals, err
	}
	totals.Principal = totals.Principal.Add(decimal.NewFromInt(1))
	return totals, nil
}
