package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/platform/metrics"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/microloan-ledger/internal/platform/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const dashboardPageSize = 500

// LoanServiceDeps carries the collaborators of the loan service.
type LoanServiceDeps struct {
	TxRunner      persistence.TxRunner
	LoanRepo      loan.Repository
	LedgerRepo    ledger.Repository
	PaymentRepo   payment.Repository
	Interest      InterestEngine
	LateFees      LateFeeEngine
	Rewinder      LedgerRewinder
	Originator    LoanOriginator
	OutboxManager OutboxManager
	Settings      finance.LateFeeSettings
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type LoanServiceImpl struct {
	LoanServiceDeps
}

func NewLoanService(deps LoanServiceDeps) LoanService {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &LoanServiceImpl{LoanServiceDeps: deps}
}

// accrualEvent is the body of loan.accrued events.
type accrualEvent struct {
	AsOf            string          `json:"as_of"`
	Interest        decimal.Decimal `json:"interest"`
	LateFeeDays     int             `json:"late_fee_days"`
	LateFees        decimal.Decimal `json:"late_fees"`
	LastAccrualDate *time.Time      `json:"last_accrual_date,omitempty"`
}

// terminationEvent is the body of loan.cancelled and loan.written_off events.
type terminationEvent struct {
	Reason    string        `json:"reason"`
	Date      string        `json:"date"`
	Reversed  ledger.Totals `json:"reversed"`
	EntryType string        `json:"entry_type"`
}

// DisburseLoan opens a loan and imports any historical payments in the same
// transaction.
func (s *LoanServiceImpl) DisburseLoan(ctx context.Context, request DisburseLoanRequest) (result *loan.Loan, err error) {
	logger := s.Logger
	if request.CorrelationID != "" {
		logger = s.Logger.With("correlation_id", request.CorrelationID)
	}
	logger = logger.With("client_id", request.ClientID.String())

	ctx, span := tracing.Start(ctx, "loan.disburse", attribute.String("client.id", request.ClientID.String()))
	defer func() { tracing.End(span, err) }()

	err = s.TxRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		l, imported, err := s.Originator.Originate(ctx, tx, request, nil)
		if err != nil {
			return err
		}

		if err := s.Rewinder.Reconcile(ctx, tx, l); err != nil {
			return err
		}
		if len(imported) > 0 {
			if err := s.LoanRepo.WithTx(tx).Update(ctx, l); err != nil {
				return err
			}
		}

		if err := s.OutboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanDisbursed, l, map[string]any{
			"principal":         l.PrincipalInitial,
			"installment":       l.InstallmentAmount,
			"maturity_date":     l.MaturityDate.Format(time.DateOnly),
			"payments_imported": len(imported),
		}); err != nil {
			return err
		}
		if l.Status == loan.StatusClosed {
			if err := s.OutboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanClosed, l, nil); err != nil {
				return err
			}
		}

		result = l
		return nil
	})
	if err != nil {
		logger.Error("Failed to disburse loan", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("loan.id", result.ID.String()))
	logger.Info("Loan disbursed", "loan_id", result.ID.String(), "status", string(result.Status))
	return result, nil
}

func (s *LoanServiceImpl) GetLoan(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	return s.LoanRepo.GetByID(ctx, loanID)
}

// ListLedger returns one page of the loan's entries and the total count.
func (s *LoanServiceImpl) ListLedger(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*ledger.Entry, int64, error) {
	if _, err := s.LoanRepo.GetByID(ctx, loanID); err != nil {
		return nil, 0, err
	}

	entries, err := s.LedgerRepo.ListByLoan(ctx, loanID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger for loan %s: %w", loanID.String(), err)
	}
	total, err := s.LedgerRepo.CountByLoan(ctx, loanID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger for loan %s: %w", loanID.String(), err)
	}
	return entries, total, nil
}

// AccrueInterest posts interest and then late fees up to asOf. A date at or
// before the watermark leaves the loan untouched.
func (s *LoanServiceImpl) AccrueInterest(ctx context.Context, loanID uuid.UUID, asOf time.Time) (result *loan.Loan, err error) {
	logger := s.Logger.With("loan_id", loanID.String())

	ctx, span := tracing.Start(ctx, "loan.accrue", attribute.String("loan.id", loanID.String()))
	defer func() { tracing.End(span, err) }()

	target := finance.StartOfDay(asOf)

	err = s.TxRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		l, err := s.LoanRepo.WithTx(tx).GetByID(ctx, loanID)
		if err != nil {
			return err
		}
		if !l.IsActive() {
			return loan.ErrLoanNotActive
		}
		watermark := l.Watermark()
		if target.Before(watermark) {
			logger.Debug("Accrual date before watermark, nothing to do",
				"as_of", target.Format(time.DateOnly),
				"watermark", watermark.Format(time.DateOnly),
			)
			result = l
			return nil
		}

		interestEntry, err := s.Interest.AccrueUpTo(ctx, tx, l, target)
		if err != nil {
			return err
		}
		feeEntries, err := s.LateFees.AccrueUpTo(ctx, tx, l, target)
		if err != nil {
			return err
		}
		if interestEntry == nil && len(feeEntries) == 0 && l.Watermark().Equal(watermark) {
			result = l
			return nil
		}

		if err := s.Rewinder.Reconcile(ctx, tx, l); err != nil {
			return err
		}
		if err := s.LoanRepo.WithTx(tx).Update(ctx, l); err != nil {
			return err
		}

		if interestEntry != nil || len(feeEntries) > 0 {
			body := accrualEvent{
				AsOf:            target.Format(time.DateOnly),
				Interest:        decimal.Zero,
				LateFeeDays:     len(feeEntries),
				LateFees:        decimal.Zero,
				LastAccrualDate: l.LastAccrualDate,
			}
			if interestEntry != nil {
				body.Interest = interestEntry.Amount
			}
			for _, fee := range feeEntries {
				body.LateFees = body.LateFees.Add(fee.Amount)
			}
			if err := s.OutboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanAccrued, l, body); err != nil {
				return err
			}
			logger.Info("Loan accrued",
				"as_of", body.AsOf,
				"interest", body.Interest.StringFixed(2),
				"late_fees", body.LateFees.StringFixed(2),
			)
		}

		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PeekPendingInterest quotes the interest AccrueInterest would post.
func (s *LoanServiceImpl) PeekPendingInterest(ctx context.Context, loanID uuid.UUID, asOf time.Time) (*InterestQuote, error) {
	l, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	quote := s.Interest.Pending(l, asOf)
	return &quote, nil
}

// ComputeArrears reports how far behind schedule the loan is today.
// Loans that are no longer active have no arrears.
func (s *LoanServiceImpl) ComputeArrears(ctx context.Context, loanID uuid.UUID) (*finance.Arrears, error) {
	l, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return s.arrears(ctx, s.LedgerRepo, l)
}

func (s *LoanServiceImpl) arrears(ctx context.Context, ledgerRepo ledger.Repository, l *loan.Loan) (*finance.Arrears, error) {
	if !l.IsActive() {
		return &finance.Arrears{}, nil
	}
	paid, err := ledgerRepo.SumAmountByType(ctx, l.ID, ledger.TypePayment)
	if err != nil {
		return nil, fmt.Errorf("failed to load paid amount for loan %s: %w", l.ID.String(), err)
	}
	a := finance.ComputeArrears(l.ArrearsInput(paid, s.Clock()), s.Settings)
	return &a, nil
}

// FlagOverdue stages a loan.overdue notice when the loan is in arrears and
// reports whether it did.
func (s *LoanServiceImpl) FlagOverdue(ctx context.Context, loanID uuid.UUID) (bool, error) {
	flagged := false
	err := s.TxRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		l, err := s.LoanRepo.WithTx(tx).GetByID(ctx, loanID)
		if err != nil {
			return err
		}
		a, err := s.arrears(ctx, s.LedgerRepo.WithTx(tx), l)
		if err != nil {
			return err
		}
		if !a.Overdue() {
			return nil
		}
		if err := s.OutboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanOverdue, l, a); err != nil {
			return err
		}
		flagged = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if flagged {
		s.Logger.Info("Loan flagged overdue", "loan_id", loanID.String())
	}
	return flagged, nil
}

// CancelOrWriteOff terminates an active loan. A loan that never received a
// payment is cancelled; otherwise it is accrued to the date and written off.
func (s *LoanServiceImpl) CancelOrWriteOff(ctx context.Context, loanID uuid.UUID, reason string, at time.Time) (result *loan.Loan, err error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, shared.NewValidationError("reason", "is required")
	}
	day := finance.StartOfDay(at)
	logger := s.Logger.With("loan_id", loanID.String())

	ctx, span := tracing.Start(ctx, "loan.terminate", attribute.String("loan.id", loanID.String()))
	defer func() { tracing.End(span, err) }()

	err = s.TxRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		l, err := s.LoanRepo.WithTx(tx).GetByID(ctx, loanID)
		if err != nil {
			return err
		}
		if !l.IsActive() {
			return loan.ErrLoanNotActive
		}
		if day.Before(l.StartDate) {
			return shared.NewValidationError("date", "cannot be before the loan start date")
		}

		paymentCount, err := s.PaymentRepo.WithTx(tx).CountByLoan(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("failed to count payments for loan %s: %w", l.ID.String(), err)
		}

		entryType := ledger.TypeCancellation
		eventType := shared.EventLoanCancelled
		if paymentCount > 0 {
			entryType = ledger.TypeWriteOff
			eventType = shared.EventLoanWrittenOff
			if _, err := s.Interest.AccrueUpTo(ctx, tx, l, day); err != nil {
				return err
			}
			if _, err := s.LateFees.AccrueUpTo(ctx, tx, l, day); err != nil {
				return err
			}
		}

		remaining := ledger.Totals{
			Principal: l.PrincipalOutstanding,
			Interest:  l.InterestAccrued,
			Fees:      l.FeesAccrued,
		}
		reversal := remaining.Neg()
		l.ApplyDeltas(reversal.Principal, reversal.Interest, reversal.Fees)

		entry := ledger.NewEntry(l.ID, entryType, day, remaining.Sum(), reversal, decimal.Zero,
			ledger.Meta{"reason": reason})
		if err := s.LedgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
			return fmt.Errorf("failed to post %s entry for loan %s: %w", entryType, l.ID.String(), err)
		}

		if entryType == ledger.TypeCancellation {
			err = l.Cancel(reason, day)
		} else {
			err = l.WriteOff(reason, day)
		}
		if err != nil {
			return err
		}

		if err := s.Rewinder.Reconcile(ctx, tx, l); err != nil {
			return err
		}
		if err := s.LoanRepo.WithTx(tx).Update(ctx, l); err != nil {
			return err
		}

		if err := s.OutboxManager.CreateOutboxEntry(ctx, tx, eventType, l, terminationEvent{
			Reason:    reason,
			Date:      day.Format(time.DateOnly),
			Reversed:  remaining,
			EntryType: string(entryType),
		}); err != nil {
			return err
		}

		logger.Info("Loan terminated",
			"status", string(l.Status),
			"reason", reason,
			"reversed", remaining.Sum().StringFixed(2),
		)
		result = l
		return nil
	})
	if err != nil {
		logger.Error("Failed to terminate loan", "error", err)
		return nil, err
	}
	return result, nil
}

// Dashboard summarises the active portfolio and this month's recoveries.
func (s *LoanServiceImpl) Dashboard(ctx context.Context) (*Dashboard, error) {
	stats, err := s.LoanRepo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio stats: %w", err)
	}

	var overdue int64
	for offset := 0; ; offset += dashboardPageSize {
		ids, err := s.LoanRepo.ListIDsByStatus(ctx, loan.StatusActive, dashboardPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list active loans: %w", err)
		}
		for _, id := range ids {
			a, err := s.ComputeArrears(ctx, id)
			if err != nil {
				return nil, err
			}
			if a.Overdue() {
				overdue++
			}
		}
		if len(ids) < dashboardPageSize {
			break
		}
	}

	now := s.Clock().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Nanosecond)
	recovered, err := s.LedgerRepo.SumDeltasByTypeBetween(ctx, ledger.TypePayment, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to sum recoveries: %w", err)
	}
	recovered = recovered.Neg()

	rate := decimal.Zero
	if stats.ActiveLoans > 0 {
		rate = decimal.NewFromInt(overdue).Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(stats.ActiveLoans)).Round(1)
	}

	return &Dashboard{
		ActiveLoans:             stats.ActiveLoans,
		PortfolioBalance:        stats.PortfolioBalance,
		OverdueLoans:            overdue,
		ArrearsRate:             rate,
		InterestRecoveredMonth:  recovered.Interest,
		PrincipalRecoveredMonth: recovered.Principal,
		FeesRecoveredMonth:      recovered.Fees,
		GeneratedAt:             now,
	}, nil
}

// ProjectSchedule projects a repayment plan without touching any loan.
func (s *LoanServiceImpl) ProjectSchedule(params finance.ScheduleParams) (*finance.Schedule, error) {
	if params.Convention == 0 {
		params.Convention = finance.Convention30360
	}
	if params.InterestMode == "" {
		params.InterestMode = finance.InterestSimple
	}
	schedule, err := finance.GenerateSchedule(params)
	if err != nil {
		return nil, CalculatorError(err)
	}
	return schedule, nil
}

// CalculateInstallment sizes an installment. When a term is given the
// matching schedule is projected as well.
func (s *LoanServiceImpl) CalculateInstallment(params finance.InstallmentParams) (*InstallmentQuote, error) {
	if params.Convention == 0 {
		params.Convention = finance.Convention30360
	}
	if params.InterestMode == "" {
		params.InterestMode = finance.InterestSimple
	}
	installment, err := finance.CalculateInstallment(params)
	if err != nil {
		return nil, CalculatorError(err)
	}

	quote := &InstallmentQuote{Installment: installment}
	if params.TermPeriods == nil || !installment.IsPositive() {
		return quote, nil
	}

	schedule, err := finance.GenerateSchedule(finance.ScheduleParams{
		Principal:    params.Principal,
		MonthlyRate:  params.MonthlyRate,
		Modality:     params.Modality,
		Installment:  installment,
		StartDate:    finance.StartOfDay(s.Clock()),
		InterestMode: params.InterestMode,
		Convention:   params.Convention,
	})
	if err != nil {
		return nil, CalculatorError(err)
	}
	quote.Schedule = schedule
	return quote, nil
}
