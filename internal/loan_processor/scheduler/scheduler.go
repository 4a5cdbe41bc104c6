package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/microloan-ledger/internal/config"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/loan_processor/service"
)

// Scheduler runs the portfolio accrual, and optionally the overdue scan, on a
// fixed interval. The first run happens as soon as it starts.
type Scheduler struct {
	batch    service.BatchService
	interval time.Duration
	overdue  bool
	clock    func() time.Time
	logger   *slog.Logger
}

func NewScheduler(cfg *config.AccrualConfig, batch service.BatchService, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		batch:    batch,
		interval: cfg.Interval,
		overdue:  cfg.Overdue,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting accrual scheduler",
		"interval", s.interval.String(),
		"overdue_scan", s.overdue,
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Accrual scheduler stopping due to context cancellation.")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce accrues every active loan to today. Accrual is idempotent per day,
// so a run after a restart on the same day posts nothing new.
func (s *Scheduler) runOnce(ctx context.Context) {
	asOf := finance.StartOfDay(s.clock().UTC())

	result, err := s.batch.RunAccrual(ctx, asOf)
	if err != nil {
		s.logger.Error("Accrual run failed", "as_of", asOf.Format(time.DateOnly), "error", err)
		return
	}
	s.logger.Info("Accrual run finished",
		"as_of", asOf.Format(time.DateOnly),
		"processed", result.Processed,
		"affected", result.Affected,
		"failed", result.Failed,
	)

	if !s.overdue {
		return
	}
	result, err = s.batch.RunOverdueScan(ctx)
	if err != nil {
		s.logger.Error("Overdue scan failed", "error", err)
		return
	}
	s.logger.Info("Overdue scan finished", "processed", result.Processed, "overdue", result.Affected)
}
