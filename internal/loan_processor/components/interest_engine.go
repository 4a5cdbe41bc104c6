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

const dateLayout = "2006-01-02"

type InterestEngineImpl struct {
	ledgerRepo ledger.Repository
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewInterestEngine(ledgerRepo ledger.Repository, m *metrics.Metrics, logger *slog.Logger) service.InterestEngine {
	return &InterestEngineImpl{
		ledgerRepo: ledgerRepo,
		metrics:    m,
		logger:     logger,
	}
}

// Pending quotes the interest accrued from the watermark to target. Inactive
// loans and targets at or before the watermark quote zero.
func (e *InterestEngineImpl) Pending(l *loan.Loan, target time.Time) service.InterestQuote {
	quote := service.InterestQuote{
		From:      l.Watermark(),
		To:        finance.StartOfDay(target),
		Base:      accrualBase(l),
		DailyRate: finance.DailyRate(l.MonthlyRate, l.Convention),
	}
	if !l.IsActive() || !quote.To.After(quote.From) {
		return quote
	}

	quote.Days = finance.DaysBetween(quote.From, quote.To, l.Convention)
	quote.Interest = finance.AccrueInterest(quote.Base, l.MonthlyRate, quote.Days, l.Convention)
	return quote
}

// AccrueUpTo posts the pending interest at target and moves the watermark
// there, even when the interest rounds to zero.
func (e *InterestEngineImpl) AccrueUpTo(ctx context.Context, tx pgx.Tx, l *loan.Loan, target time.Time) (*ledger.Entry, error) {
	quote := e.Pending(l, target)
	if !l.IsActive() || !quote.To.After(quote.From) {
		return nil, nil
	}

	var entry *ledger.Entry
	if quote.Interest.IsPositive() {
		l.ApplyDeltas(decimal.Zero, quote.Interest, decimal.Zero)
		entry = ledger.NewEntry(l.ID, ledger.TypeInterestAccrual, quote.To, quote.Interest,
			ledger.Totals{Interest: quote.Interest}, l.BalanceTotal,
			ledger.Meta{
				"days":       quote.Days,
				"from":       quote.From.Format(dateLayout),
				"to":         quote.To.Format(dateLayout),
				"daily_rate": quote.DailyRate.String(),
				"base":       quote.Base.StringFixed(2),
			},
		)
		if err := e.ledgerRepo.WithTx(tx).Create(ctx, entry); err != nil {
			e.logger.Error("Failed to post interest accrual", "loan_id", l.ID.String(), "error", err)
			return nil, fmt.Errorf("failed to post interest accrual for loan %s: %w", l.ID.String(), err)
		}
		e.metrics.AccrualEntries(string(ledger.TypeInterestAccrual), 1)
	}

	l.SetWatermark(quote.To)
	return entry, nil
}

// accrualBase picks the balance interest is charged on.
func accrualBase(l *loan.Loan) decimal.Decimal {
	if l.InterestMode != finance.InterestCompound {
		return l.PrincipalInitial
	}
	if l.InterestBase == finance.BaseTotalBalance {
		return l.BalanceTotal
	}
	return l.PrincipalOutstanding
}
