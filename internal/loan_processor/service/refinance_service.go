package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/microloan-ledger/internal/platform/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type RefinanceServiceImpl struct {
	txRunner      persistence.TxRunner
	loanRepo      loan.Repository
	ledgerRepo    ledger.Repository
	interest      InterestEngine
	lateFees      LateFeeEngine
	rewinder      LedgerRewinder
	originator    LoanOriginator
	outboxManager OutboxManager
	logger        *slog.Logger
}

func NewRefinanceService(
	txRunner persistence.TxRunner,
	loanRepo loan.Repository,
	ledgerRepo ledger.Repository,
	interest InterestEngine,
	lateFees LateFeeEngine,
	rewinder LedgerRewinder,
	originator LoanOriginator,
	outboxManager OutboxManager,
	logger *slog.Logger,
) RefinanceService {
	return &RefinanceServiceImpl{
		txRunner:      txRunner,
		loanRepo:      loanRepo,
		ledgerRepo:    ledgerRepo,
		interest:      interest,
		lateFees:      lateFees,
		rewinder:      rewinder,
		originator:    originator,
		outboxManager: outboxManager,
		logger:        logger,
	}
}

// RefinanceLoans pays off one or more loans into a new one.
func (s *RefinanceServiceImpl) RefinanceLoans(ctx context.Context, request RefinanceRequest) (*RefinanceResult, error) {
	return s.refinance(ctx, request, 1, "loan.refinance")
}

// ConsolidateLoans is RefinanceLoans for two or more loans.
func (s *RefinanceServiceImpl) ConsolidateLoans(ctx context.Context, request RefinanceRequest) (*RefinanceResult, error) {
	return s.refinance(ctx, request, 2, "loan.consolidate")
}

func (s *RefinanceServiceImpl) refinance(ctx context.Context, request RefinanceRequest, minLoans int, spanName string) (result *RefinanceResult, err error) {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}
	logger = logger.With("client_id", request.ClientID.String())

	ctx, span := tracing.Start(ctx, spanName, attribute.String("client.id", request.ClientID.String()))
	defer func() { tracing.End(span, err) }()

	ids := uniqueIDs(request.LoanIDs)
	if request.ClientID == uuid.Nil {
		return nil, shared.NewValidationError("client_id", "is required")
	}
	if len(ids) < minLoans {
		return nil, shared.NewValidationError("loan_ids", fmt.Sprintf("at least %d distinct loans are required", minLoans))
	}
	if request.Principal.IsNegative() {
		return nil, shared.NewValidationError("principal", "cannot be negative")
	}
	date := finance.StartOfDay(request.RefinanceDate)
	if date.IsZero() {
		return nil, shared.NewValidationError("refinance_date", "is required")
	}

	err = s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		loans, err := s.loanRepo.WithTx(tx).GetManyByClient(ctx, request.ClientID, ids)
		if err != nil {
			return err
		}
		if len(loans) != len(ids) {
			return shared.NewValidationError("loan_ids", "every loan must exist and belong to the client")
		}
		for _, l := range loans {
			if !l.IsActive() {
				return &shared.ValidationError{
					Field:   "loan_ids",
					Reason:  "every loan must be active",
					Details: map[string]any{"loan_id": l.ID.String(), "status": string(l.Status)},
				}
			}
			if date.Before(l.StartDate) {
				return shared.NewValidationError("refinance_date", "cannot be before a refinanced loan's start date")
			}
		}

		payoffs := make([]Payoff, 0, len(loans))
		total := decimal.Zero
		for _, l := range loans {
			payoff, err := s.payOff(ctx, tx, l, date)
			if err != nil {
				return err
			}
			payoffs = append(payoffs, payoff)
			total = total.Add(payoff.Total)
		}

		terms := request.Terms
		terms.ClientID = request.ClientID
		terms.StartDate = date
		terms.Principal = decimal.Max(request.Principal, total)
		terms.Payments = nil
		if terms.CorrelationID == "" {
			terms.CorrelationID = request.CorrelationID
		}

		refinanced := make([]string, 0, len(loans))
		for _, l := range loans {
			refinanced = append(refinanced, l.ID.String())
		}
		newLoan, _, err := s.originator.Originate(ctx, tx, terms, ledger.Meta{
			"refinanced_loan_ids": refinanced,
			"total_payoff":        total.StringFixed(2),
		})
		if err != nil {
			return err
		}
		if err := s.rewinder.Reconcile(ctx, tx, newLoan); err != nil {
			return err
		}

		for _, payoff := range payoffs {
			link := &loan.RefinanceLink{
				ID:           uuid.New(),
				ClientID:     request.ClientID,
				NewLoanID:    newLoan.ID,
				OldLoanID:    payoff.LoanID,
				PayoffAmount: payoff.Total,
				CreatedAt:    time.Now().UTC(),
			}
			if err := s.loanRepo.WithTx(tx).CreateRefinanceLink(ctx, link); err != nil {
				return fmt.Errorf("failed to link loan %s to %s: %w", payoff.LoanID.String(), newLoan.ID.String(), err)
			}
		}

		for i, l := range loans {
			if err := s.outboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanRefinanced, l, map[string]any{
				"new_loan_id": newLoan.ID,
				"payoff":      payoffs[i],
			}); err != nil {
				return err
			}
		}
		if err := s.outboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanDisbursed, newLoan, map[string]any{
			"principal":           newLoan.PrincipalInitial,
			"installment":         newLoan.InstallmentAmount,
			"maturity_date":       newLoan.MaturityDate.Format(time.DateOnly),
			"refinanced_loan_ids": refinanced,
			"total_payoff":        total,
		}); err != nil {
			return err
		}

		result = &RefinanceResult{NewLoan: newLoan, Payoffs: payoffs, TotalPayoff: total}
		return nil
	})
	if err != nil {
		logger.Error("Failed to refinance loans", "loan_ids", len(ids), "error", err)
		return nil, err
	}

	logger.Info("Loans refinanced",
		"new_loan_id", result.NewLoan.ID.String(),
		"refinanced", len(result.Payoffs),
		"total_payoff", result.TotalPayoff.StringFixed(2),
		"principal", result.NewLoan.PrincipalInitial.StringFixed(2),
	)
	return result, nil
}

// payOff accrues l to date, posts the refinance_payoff entry and closes it.
func (s *RefinanceServiceImpl) payOff(ctx context.Context, tx pgx.Tx, l *loan.Loan, date time.Time) (Payoff, error) {
	if _, err := s.interest.AccrueUpTo(ctx, tx, l, date); err != nil {
		return Payoff{}, err
	}
	if _, err := s.lateFees.AccrueUpTo(ctx, tx, l, date); err != nil {
		return Payoff{}, err
	}

	owed := ledger.Totals{
		Principal: l.PrincipalOutstanding,
		Interest:  l.InterestAccrued,
		Fees:      l.FeesAccrued,
	}
	reversal := owed.Neg()
	l.ApplyDeltas(reversal.Principal, reversal.Interest, reversal.Fees)

	entry := ledger.NewEntry(l.ID, ledger.TypeRefinancePayoff, date, owed.Sum(), reversal, decimal.Zero, nil)
	if err := s.ledgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
		return Payoff{}, fmt.Errorf("failed to post payoff for loan %s: %w", l.ID.String(), err)
	}

	if err := l.MarkRefinanced(); err != nil {
		return Payoff{}, err
	}
	if err := s.rewinder.Reconcile(ctx, tx, l); err != nil {
		return Payoff{}, err
	}
	if err := s.loanRepo.WithTx(tx).Update(ctx, l); err != nil {
		return Payoff{}, err
	}

	return Payoff{
		LoanID:    l.ID,
		Principal: owed.Principal,
		Interest:  owed.Interest,
		Fees:      owed.Fees,
		Total:     owed.Sum(),
	}, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
