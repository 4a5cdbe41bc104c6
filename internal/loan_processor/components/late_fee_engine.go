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
	"github.com/microloan-ledger/internal/platform/metrics"
	"github.com/shopspring/decimal"
)

type LateFeeEngineImpl struct {
	ledgerRepo ledger.Repository
	settings   finance.LateFeeSettings
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewLateFeeEngine binds the engine to a settings snapshot. Settings changes
// take effect for engines built afterwards.
func NewLateFeeEngine(ledgerRepo ledger.Repository, settings finance.LateFeeSettings, m *metrics.Metrics, logger *slog.Logger) service.LateFeeEngine {
	return &LateFeeEngineImpl{
		ledgerRepo: ledgerRepo,
		settings:   settings,
		metrics:    m,
		logger:     logger,
	}
}

// AccrueUpTo posts a fee_accrual entry for every business day from the
// first chargeable day (or the day after the last fee) through target.
// Nothing is posted for loans without late fees or a positive installment.
func (e *LateFeeEngineImpl) AccrueUpTo(ctx context.Context, tx pgx.Tx, l *loan.Loan, target time.Time) ([]*ledger.Entry, error) {
	if !l.IsActive() || !l.LateFees.Enabled || !l.InstallmentAmount.IsPositive() {
		return nil, nil
	}
	daily := e.settings.DailyFee(l.LateFees)
	if !daily.IsPositive() {
		return nil, nil
	}

	target = finance.StartOfDay(target)
	ledgerRepo := e.ledgerRepo.WithTx(tx)

	due := finance.DueDatesBefore(l.StartDate, l.Modality, target)
	if len(due) == 0 {
		return nil, nil
	}

	paid, err := ledgerRepo.SumAmountByType(ctx, l.ID, ledger.TypePayment)
	if err != nil {
		return nil, fmt.Errorf("failed to load paid amount for loan %s: %w", l.ID.String(), err)
	}
	covered := paid.Div(l.InstallmentAmount).Floor().IntPart()
	if covered >= int64(len(due)) {
		return nil, nil
	}
	firstUnpaid := due[covered]

	start := finance.AddWeekdays(firstUnpaid, e.settings.Grace(l.LateFees)+1)
	lastFee, err := ledgerRepo.LatestOccurredAtOfType(ctx, l.ID, ledger.TypeFeeAccrual)
	if err != nil {
		return nil, fmt.Errorf("failed to load last fee for loan %s: %w", l.ID.String(), err)
	}
	if lastFee != nil {
		if next := finance.AddWeekdays(finance.StartOfDay(*lastFee), 1); next.After(start) {
			start = next
		}
	}

	var (
		entries []*ledger.Entry
		total   = decimal.Zero
		balance = l.BalanceTotal
	)
	for day := start; !day.After(target); day = day.AddDate(0, 0, 1) {
		if !finance.IsWeekday(day) {
			continue
		}
		balance = balance.Add(daily)
		total = total.Add(daily)

		entry := ledger.NewEntry(l.ID, ledger.TypeFeeAccrual, day, daily, ledger.Totals{Fees: daily}, balance,
			ledger.Meta{
				"late_fee_date": day.Format(dateLayout),
				"daily_amount":  daily.StringFixed(2),
			},
		)
		if err := ledgerRepo.Create(ctx, entry); err != nil {
			e.logger.Error("Failed to post late fee", "loan_id", l.ID.String(), "date", day.Format(dateLayout), "error", err)
			return nil, fmt.Errorf("failed to post late fee for loan %s: %w", l.ID.String(), err)
		}
		entries = append(entries, entry)
	}

	if total.IsPositive() {
		l.ApplyDeltas(decimal.Zero, decimal.Zero, total)
		e.metrics.AccrualEntries(string(ledger.TypeFeeAccrual), len(entries))
		e.logger.Debug("Late fees posted",
			"loan_id", l.ID.String(),
			"days", len(entries),
			"total", total.StringFixed(2),
		)
	}

	return entries, nil
}
