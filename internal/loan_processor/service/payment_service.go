package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/platform/metrics"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/microloan-ledger/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
)

type PaymentServiceImpl struct {
	txRunner      persistence.TxRunner
	loanRepo      loan.Repository
	paymentRepo   payment.Repository
	replay        ReplayEngine
	rewinder      LedgerRewinder
	outboxManager OutboxManager
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewPaymentService(
	txRunner persistence.TxRunner,
	loanRepo loan.Repository,
	paymentRepo payment.Repository,
	replay ReplayEngine,
	rewinder LedgerRewinder,
	outboxManager OutboxManager,
	m *metrics.Metrics,
	logger *slog.Logger,
) PaymentService {
	return &PaymentServiceImpl{
		txRunner:      txRunner,
		loanRepo:      loanRepo,
		paymentRepo:   paymentRepo,
		replay:        replay,
		rewinder:      rewinder,
		outboxManager: outboxManager,
		metrics:       m,
		logger:        logger,
	}
}

// paymentEvent is the body of payment.registered and payment.deleted events.
type paymentEvent struct {
	Payment          *payment.Payment `json:"payment"`
	RolledBack       int              `json:"rolled_back_entries"`
	Replayed         int              `json:"replayed_payments"`
	UnappliedReplays int              `json:"unapplied_replays,omitempty"`
}

// RegisterPayment applies a payment in one transaction. A payment dated
// before existing activity rewinds the ledger and replays what followed.
func (s *PaymentServiceImpl) RegisterPayment(ctx context.Context, request RegisterPaymentRequest) (result *payment.Payment, err error) {
	logger := s.logger
	if request.CorrelationID != "" {
		logger = s.logger.With("correlation_id", request.CorrelationID)
	}
	logger = logger.With("loan_id", request.LoanID.String())

	ctx, span := tracing.Start(ctx, "payment.register", attribute.String("loan.id", request.LoanID.String()))
	defer func() {
		tracing.End(span, err)
		s.metrics.PaymentOperation("register", outcome(err))
	}()

	if err = request.Validate(); err != nil {
		logger.Warn("Payment rejected", "error", err)
		return nil, err
	}

	logger.Info("Registering payment",
		"paid_at", request.PaidAt.Format("2006-01-02"),
		"amount", request.Amount.StringFixed(2),
		"method", request.Method,
	)

	err = s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		l, err := s.loanRepo.WithTx(tx).GetByID(ctx, request.LoanID)
		if err != nil {
			return err
		}
		wasActive := l.IsActive()

		p := &payment.Payment{
			ID:        uuid.New(),
			PaidAt:    request.PaidAt,
			Amount:    request.Amount,
			Method:    request.Method,
			Reference: request.Reference,
			Notes:     request.Notes,
		}
		replayOutcome, err := s.replay.Register(ctx, tx, l, p)
		if err != nil {
			return err
		}

		if err := s.persist(ctx, tx, l); err != nil {
			return err
		}

		if err := s.outboxManager.CreateOutboxEntry(ctx, tx, shared.EventPaymentRegistered, l, paymentEvent{
			Payment:        p,
			RolledBack:       replayOutcome.RolledBack,
			Replayed:         replayOutcome.Replayed,
			UnappliedReplays: replayOutcome.UnappliedReplays,
		}); err != nil {
			return err
		}
		if wasActive && l.Status == loan.StatusClosed {
			if err := s.outboxManager.CreateOutboxEntry(ctx, tx, shared.EventLoanClosed, l, nil); err != nil {
				return err
			}
		}

		span.SetAttributes(
			attribute.Int("replay.rolled_back", replayOutcome.RolledBack),
			attribute.Int("replay.replayed", replayOutcome.Replayed),
		)
		logger.Info("Payment registered",
			"payment_id", p.ID.String(),
			"status", string(l.Status),
			"balance_total", l.BalanceTotal.StringFixed(2),
			"replayed", replayOutcome.Replayed,
		)
		result = p
		return nil
	})
	if err != nil {
		logger.Error("Failed to register payment", "error", err)
		return nil, err
	}
	return result, nil
}

// DeletePayment removes a payment and replays the payments recorded on or
// after its date.
func (s *PaymentServiceImpl) DeletePayment(ctx context.Context, paymentID uuid.UUID) (err error) {
	logger := s.logger.With("payment_id", paymentID.String())

	ctx, span := tracing.Start(ctx, "payment.delete", attribute.String("payment.id", paymentID.String()))
	defer func() {
		tracing.End(span, err)
		s.metrics.PaymentOperation("delete", outcome(err))
	}()

	err = s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		p, err := s.paymentRepo.WithTx(tx).GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		l, err := s.loanRepo.WithTx(tx).GetByID(ctx, p.LoanID)
		if err != nil {
			return err
		}

		replayOutcome, err := s.replay.Remove(ctx, tx, l, p)
		if err != nil {
			return err
		}

		if err := s.persist(ctx, tx, l); err != nil {
			return err
		}

		if err := s.outboxManager.CreateOutboxEntry(ctx, tx, shared.EventPaymentDeleted, l, paymentEvent{
			Payment:        p,
			RolledBack:       replayOutcome.RolledBack,
			Replayed:         replayOutcome.Replayed,
			UnappliedReplays: replayOutcome.UnappliedReplays,
		}); err != nil {
			return err
		}

		logger.Info("Payment deleted",
			"loan_id", l.ID.String(),
			"status", string(l.Status),
			"balance_total", l.BalanceTotal.StringFixed(2),
			"replayed", replayOutcome.Replayed,
		)
		return nil
	})
	if err != nil {
		logger.Error("Failed to delete payment", "error", err)
		return err
	}
	return nil
}

// ListPayments returns the loan's payments in application order.
func (s *PaymentServiceImpl) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*payment.Payment, error) {
	if _, err := s.loanRepo.GetByID(ctx, loanID); err != nil {
		return nil, err
	}
	payments, err := s.paymentRepo.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for loan %s: %w", loanID.String(), err)
	}
	return payments, nil
}

// persist reconciles the loan against its ledger and writes it back.
func (s *PaymentServiceImpl) persist(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	if err := s.rewinder.Reconcile(ctx, tx, l); err != nil {
		return err
	}
	return s.loanRepo.WithTx(tx).Update(ctx, l)
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	var validationErr *shared.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &validationErr):
		return "rejected"
	case errors.Is(err, loan.ErrLoanNotActive):
		return "rejected"
	case errors.Is(err, loan.ErrLoanNotFound{}), errors.Is(err, payment.ErrPaymentNotFound{}):
		return "not_found"
	case errors.As(err, new(loan.ErrConcurrentModification)):
		return "conflict"
	case errors.Is(err, ErrReplayLimitExceeded):
		return "replay_limit"
	case errors.Is(err, ErrLedgerDivergence):
		return "divergence"
	default:
		return "error"
	}
}
