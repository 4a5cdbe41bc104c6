package components

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
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/platform/metrics"
)

type ReplayEngineImpl struct {
	paymentRepo   payment.Repository
	ledgerRepo    ledger.Repository
	interest      service.InterestEngine
	lateFees      service.LateFeeEngine
	rewinder      service.LedgerRewinder
	maxIterations int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewReplayEngine(
	paymentRepo payment.Repository,
	ledgerRepo ledger.Repository,
	interest service.InterestEngine,
	lateFees service.LateFeeEngine,
	rewinder service.LedgerRewinder,
	maxIterations int,
	m *metrics.Metrics,
	logger *slog.Logger,
) service.ReplayEngine {
	return &ReplayEngineImpl{
		paymentRepo:   paymentRepo,
		ledgerRepo:    ledgerRepo,
		interest:      interest,
		lateFees:      lateFees,
		rewinder:      rewinder,
		maxIterations: maxIterations,
		metrics:       m,
		logger:        logger,
	}
}

// Register applies p to the loan. When anything is already recorded after
// p's date, that history is unwound first and the later payments are applied
// again on top of p, oldest first.
//
// A closed loan only accepts a payment dated before its last activity.
func (e *ReplayEngineImpl) Register(ctx context.Context, tx pgx.Tx, l *loan.Loan, p *payment.Payment) (*service.ReplayOutcome, error) {
	p.PaidAt = finance.StartOfDay(p.PaidAt)
	if p.PaidAt.Before(l.StartDate) {
		return nil, shared.NewValidationError("paid_at", "cannot be before the loan start date")
	}
	if l.Status != loan.StatusActive && l.Status != loan.StatusClosed {
		return nil, loan.ErrLoanNotActive
	}

	later, err := e.paymentRepo.WithTx(tx).ListFrom(ctx, l.ID, p.PaidAt, false, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load later payments for loan %s: %w", l.ID.String(), err)
	}
	retroactive := len(later) > 0
	if !retroactive {
		retroactive, err = e.ledgerRepo.WithTx(tx).ExistsAfter(ctx, l.ID, p.PaidAt)
		if err != nil {
			return nil, fmt.Errorf("failed to check later entries for loan %s: %w", l.ID.String(), err)
		}
	}
	if l.Status == loan.StatusClosed && !retroactive {
		return nil, loan.ErrLoanNotActive
	}

	outcome := &service.ReplayOutcome{Payment: p}
	if retroactive {
		outcome.RolledBack, err = e.unwind(ctx, tx, l, p.PaidAt, false, later)
		if err != nil {
			return nil, err
		}
	}

	if err := e.apply(ctx, tx, l, p); err != nil {
		return nil, err
	}

	if err := e.replay(ctx, tx, l, later, true, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Remove deletes p and every payment on or after its date, unwinds the
// ledger from that date and applies the other payments again.
func (e *ReplayEngineImpl) Remove(ctx context.Context, tx pgx.Tx, l *loan.Loan, p *payment.Payment) (*service.ReplayOutcome, error) {
	if l.Status != loan.StatusActive && l.Status != loan.StatusClosed {
		return nil, loan.ErrLoanNotActive
	}

	siblings, err := e.paymentRepo.WithTx(tx).ListFrom(ctx, l.ID, p.PaidAt, true, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sibling payments for loan %s: %w", l.ID.String(), err)
	}

	outcome := &service.ReplayOutcome{Payment: p}
	outcome.RolledBack, err = e.unwind(ctx, tx, l, p.PaidAt, true, append([]*payment.Payment{p}, siblings...))
	if err != nil {
		return nil, err
	}

	if err := e.replay(ctx, tx, l, siblings, false, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// unwind removes ledger history from the given date along with the payment
// rows it belonged to, then reopens the loan at the reset watermark. Late
// fees dated after the watermark go too, so replayed payments post interest
// for that window before the fees, as they did when first registered.
func (e *ReplayEngineImpl) unwind(ctx context.Context, tx pgx.Tx, l *loan.Loan, from time.Time, inclusive bool, payments []*payment.Payment) (int, error) {
	removed, err := e.rewinder.Rewind(ctx, tx, l, from, inclusive)
	if err != nil {
		return 0, err
	}

	ids := make([]uuid.UUID, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	if err := e.paymentRepo.WithTx(tx).DeleteByIDs(ctx, ids); err != nil {
		return 0, fmt.Errorf("failed to delete payments to replay for loan %s: %w", l.ID.String(), err)
	}

	if err := e.rewinder.ResetWatermark(ctx, tx, l); err != nil {
		return 0, err
	}
	fees, err := e.rewinder.Rewind(ctx, tx, l, l.Watermark(), false)
	if err != nil {
		return 0, err
	}
	l.Reopen()
	return removed + fees, nil
}

// replay applies the snapshot in order. A payment reaching a loan that is
// already paid off is still recorded, with its whole amount as excess.
// Payments re-registered ahead of a retroactive one carry the replay marker;
// the ones following a deleted payment keep their notes.
func (e *ReplayEngineImpl) replay(ctx context.Context, tx pgx.Tx, l *loan.Loan, snapshot []*payment.Payment, mark bool, outcome *service.ReplayOutcome) error {
	if len(snapshot) == 0 {
		return nil
	}
	logger := e.logger.With("loan_id", l.ID.String())

	for i, prior := range snapshot {
		if i >= e.maxIterations {
			logger.Error("Replay limit reached", "pending", len(snapshot)-i, "limit", e.maxIterations)
			return fmt.Errorf("%w: %d payments to replay on loan %s, limit is %d",
				service.ErrReplayLimitExceeded, len(snapshot), l.ID.String(), e.maxIterations)
		}

		notes := prior.Notes
		if mark {
			notes = payment.ReplayNotes(notes)
		}
		replayed := &payment.Payment{
			ID:        prior.ID,
			PaidAt:    prior.PaidAt,
			Amount:    prior.Amount,
			Method:    prior.Method,
			Reference: prior.Reference,
			Notes:     notes,
			CreatedAt: prior.CreatedAt,
		}

		if l.Status == loan.StatusClosed {
			logger.Warn("Replayed payment reached a paid off loan",
				"payment_id", prior.ID.String(),
				"paid_at", prior.PaidAt.Format(dateLayout),
				"amount", prior.Amount.StringFixed(2),
			)
			outcome.UnappliedReplays++
		}
		if err := e.apply(ctx, tx, l, replayed); err != nil {
			return err
		}
		outcome.Replayed++
	}

	e.metrics.Replayed(outcome.Replayed)
	logger.Info("Payments replayed", "replayed", outcome.Replayed, "unapplied", outcome.UnappliedReplays)
	return nil
}

// apply accrues interest and then late fees up to the payment date, runs
// the fees, interest, principal waterfall and records the payment. Neither
// engine accrues on a closed loan, so everything lands in excess there.
func (e *ReplayEngineImpl) apply(ctx context.Context, tx pgx.Tx, l *loan.Loan, p *payment.Payment) error {
	if _, err := e.interest.AccrueUpTo(ctx, tx, l, p.PaidAt); err != nil {
		return err
	}
	if _, err := e.lateFees.AccrueUpTo(ctx, tx, l, p.PaidAt); err != nil {
		return err
	}

	alloc := payment.Allocate(p.Amount, l.FeesAccrued, l.InterestAccrued, l.PrincipalOutstanding)
	deltas := ledger.Totals{
		Principal: alloc.Principal.Neg(),
		Interest:  alloc.Interest.Neg(),
		Fees:      alloc.Fees.Neg(),
	}
	l.ApplyDeltas(deltas.Principal, deltas.Interest, deltas.Fees)
	l.SettleIfPaid()
	if p.PaidAt.After(l.Watermark()) {
		l.SetWatermark(p.PaidAt)
	}

	meta := ledger.Meta{
		"method":       p.Method,
		"gross_amount": p.Amount.StringFixed(2),
	}
	if p.Reference != "" {
		meta["reference"] = p.Reference
	}
	if alloc.Excess.IsPositive() {
		meta["excess"] = alloc.Excess.StringFixed(2)
	}

	entry := ledger.NewEntry(l.ID, ledger.TypePayment, p.PaidAt, alloc.Applied(), deltas, l.BalanceTotal, meta)
	if err := e.ledgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to post payment entry for loan %s: %w", l.ID.String(), err)
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.LoanID = l.ID
	p.ClientID = l.ClientID
	p.LedgerEntryID = entry.ID
	p.AppliedFees = alloc.Fees
	p.AppliedInterest = alloc.Interest
	p.AppliedPrincipal = alloc.Principal
	p.ExcessAmount = alloc.Excess

	if err := e.paymentRepo.WithTx(tx).Create(ctx, p); err != nil {
		return fmt.Errorf("failed to record payment for loan %s: %w", l.ID.String(), err)
	}
	if err := e.ledgerRepo.WithTx(tx).AttachPayment(ctx, entry.ID, p.ID); err != nil {
		return fmt.Errorf("failed to link payment %s to its entry: %w", p.ID.String(), err)
	}
	entry.PaymentID = &p.ID

	if alloc.Excess.IsPositive() {
		e.logger.Warn("Payment exceeds amount owed",
			"loan_id", l.ID.String(),
			"payment_id", p.ID.String(),
			"excess", alloc.Excess.StringFixed(2),
		)
	}
	return nil
}
