package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
)

// PaymentService registers and deletes payments, replaying later history
// whenever the change is retroactive.
type PaymentService interface {
	RegisterPayment(ctx context.Context, request RegisterPaymentRequest) (*payment.Payment, error)
	DeletePayment(ctx context.Context, paymentID uuid.UUID) error
	ListPayments(ctx context.Context, loanID uuid.UUID) ([]*payment.Payment, error)
}

// LoanService covers origination, accrual, reporting and termination.
type LoanService interface {
	DisburseLoan(ctx context.Context, request DisburseLoanRequest) (*loan.Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error)
	ListLedger(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*ledger.Entry, int64, error)
	AccrueInterest(ctx context.Context, loanID uuid.UUID, asOf time.Time) (*loan.Loan, error)
	PeekPendingInterest(ctx context.Context, loanID uuid.UUID, asOf time.Time) (*InterestQuote, error)
	ComputeArrears(ctx context.Context, loanID uuid.UUID) (*finance.Arrears, error)
	FlagOverdue(ctx context.Context, loanID uuid.UUID) (bool, error)
	CancelOrWriteOff(ctx context.Context, loanID uuid.UUID, reason string, at time.Time) (*loan.Loan, error)
	Dashboard(ctx context.Context) (*Dashboard, error)
	ProjectSchedule(params finance.ScheduleParams) (*finance.Schedule, error)
	CalculateInstallment(params finance.InstallmentParams) (*InstallmentQuote, error)
}

// RefinanceService pays off existing loans into a new one.
type RefinanceService interface {
	RefinanceLoans(ctx context.Context, request RefinanceRequest) (*RefinanceResult, error)
	ConsolidateLoans(ctx context.Context, request RefinanceRequest) (*RefinanceResult, error)
}

// BatchService runs portfolio-wide jobs for the worker and the CLI.
type BatchService interface {
	RunAccrual(ctx context.Context, asOf time.Time) (*BatchResult, error)
	RunOverdueScan(ctx context.Context) (*BatchResult, error)
	Shutdown()
}

// InterestEngine accrues contractual interest up to a date.
type InterestEngine interface {
	Pending(l *loan.Loan, target time.Time) InterestQuote
	AccrueUpTo(ctx context.Context, tx pgx.Tx, l *loan.Loan, target time.Time) (*ledger.Entry, error)
}

// LateFeeEngine posts one fee entry per late business day.
type LateFeeEngine interface {
	AccrueUpTo(ctx context.Context, tx pgx.Tx, l *loan.Loan, target time.Time) ([]*ledger.Entry, error)
}

// LedgerRewinder unwinds ledger history and checks the cache against it.
type LedgerRewinder interface {
	// Rewind reverts and deletes every entry after from (or at it, when
	// inclusive) newest first. Disbursements are never removed.
	Rewind(ctx context.Context, tx pgx.Tx, l *loan.Loan, from time.Time, inclusive bool) (int, error)
	ResetWatermark(ctx context.Context, tx pgx.Tx, l *loan.Loan) error
	Reconcile(ctx context.Context, tx pgx.Tx, l *loan.Loan) error
}

// ReplayEngine applies payments to a loan in memory and in the ledger. It
// never persists the loan row itself; callers do that once per unit of work.
type ReplayEngine interface {
	Register(ctx context.Context, tx pgx.Tx, l *loan.Loan, p *payment.Payment) (*ReplayOutcome, error)
	Remove(ctx context.Context, tx pgx.Tx, l *loan.Loan, p *payment.Payment) (*ReplayOutcome, error)
}

// LoanOriginator opens a loan with its disbursement entry.
type LoanOriginator interface {
	// Historical payments in the request are registered in date order until
	// the loan closes.
	Originate(ctx context.Context, tx pgx.Tx, request DisburseLoanRequest, meta ledger.Meta) (*loan.Loan, []*payment.Payment, error)
}

// OutboxManager stages loan events inside the caller's transaction.
type OutboxManager interface {
	CreateOutboxEntry(ctx context.Context, tx pgx.Tx, eventType shared.EventType, l *loan.Loan, data any) error
}
