package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/shopspring/decimal"
)

type LedgerRewinderImpl struct {
	ledgerRepo ledger.Repository
	logger     *slog.Logger
}

func NewLedgerRewinder(ledgerRepo ledger.Repository, logger *slog.Logger) service.LedgerRewinder {
	return &LedgerRewinderImpl{
		ledgerRepo: ledgerRepo,
		logger:     logger,
	}
}

// Rewind walks the entries newest first, subtracting each one's deltas from
// the cache before deleting it.
func (r *LedgerRewinderImpl) Rewind(ctx context.Context, tx pgx.Tx, l *loan.Loan, from time.Time, inclusive bool) (int, error) {
	ledgerRepo := r.ledgerRepo.WithTx(tx)

	entries, err := ledgerRepo.ListFrom(ctx, l.ID, from, inclusive)
	if err != nil {
		return 0, fmt.Errorf("failed to load entries to rewind for loan %s: %w", l.ID.String(), err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.Type == ledger.TypeDisbursement {
			continue
		}
		d := entry.Deltas()
		l.RevertDeltas(d.Principal, d.Interest, d.Fees)
		if err := ledgerRepo.Delete(ctx, entry.ID); err != nil {
			return removed, fmt.Errorf("failed to rewind entry %s: %w", entry.ID.String(), err)
		}
		removed++
	}

	if removed > 0 {
		r.logger.Info("Ledger rewound",
			"loan_id", l.ID.String(),
			"from", from.Format(dateLayout),
			"inclusive", inclusive,
			"entries", removed,
		)
	}
	return removed, nil
}

// ResetWatermark moves the watermark back to the newest remaining entry that
// is not a late fee, or to the start date when none is left.
func (r *LedgerRewinderImpl) ResetWatermark(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	latest, err := r.ledgerRepo.WithTx(tx).LatestOccurredAt(ctx, l.ID, ledger.TypeFeeAccrual)
	if err != nil {
		return fmt.Errorf("failed to reset watermark for loan %s: %w", l.ID.String(), err)
	}
	if latest == nil {
		l.SetWatermark(l.StartDate)
		return nil
	}
	l.SetWatermark(*latest)
	return nil
}

// Reconcile checks that the ledger sums match the cached components and
// that the balance equals their sum.
func (r *LedgerRewinderImpl) Reconcile(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	totals, err := r.ledgerRepo.WithTx(tx).SumDeltas(ctx, l.ID)
	if err != nil {
		return fmt.Errorf("failed to reconcile loan %s: %w", l.ID.String(), err)
	}

	if !withinTolerance(totals.Principal, l.PrincipalOutstanding) ||
		!withinTolerance(totals.Interest, l.InterestAccrued) ||
		!withinTolerance(totals.Fees, l.FeesAccrued) {
		r.logger.Error("Ledger divergence detected",
			"loan_id", l.ID.String(),
			"ledger_principal", totals.Principal.String(),
			"ledger_interest", totals.Interest.String(),
			"ledger_fees", totals.Fees.String(),
			"cached_principal", l.PrincipalOutstanding.String(),
			"cached_interest", l.InterestAccrued.String(),
			"cached_fees", l.FeesAccrued.String(),
		)
		return fmt.Errorf("%w: loan %s ledger %s/%s/%s, cached %s/%s/%s", service.ErrLedgerDivergence, l.ID.String(),
			totals.Principal.StringFixed(2), totals.Interest.StringFixed(2), totals.Fees.StringFixed(2),
			l.PrincipalOutstanding.StringFixed(2), l.InterestAccrued.StringFixed(2), l.FeesAccrued.StringFixed(2))
	}

	if !l.Balanced() {
		r.logger.Error("Loan balance does not match its components",
			"loan_id", l.ID.String(),
			"balance_total", l.BalanceTotal.String(),
			"components", l.ComponentSum().String(),
		)
		return fmt.Errorf("%w: loan %s balance %s, components %s", service.ErrLedgerDivergence, l.ID.String(),
			l.BalanceTotal.StringFixed(2), l.ComponentSum().StringFixed(2))
	}

	return nil
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(finance.ClosingTolerance)
}
