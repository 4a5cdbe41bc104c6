package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/platform/metrics"
	"github.com/panjf2000/ants/v2"
)

// BatchServiceImpl runs a job over every active loan, one loan per task.
// Without a pool the loans are processed one after another.
type BatchServiceImpl struct {
	loans     LoanService
	loanRepo  loan.Repository
	pool      *ants.Pool
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type WorkerPoolConfig struct {
	Size      int
	BatchSize int
}

// loanTask processes one loan and reports whether it changed anything.
type loanTask func(ctx context.Context, loanID uuid.UUID) (bool, error)

func NewWorkerPoolBatchService(
	loans LoanService,
	loanRepo loan.Repository,
	config WorkerPoolConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*BatchServiceImpl, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &BatchServiceImpl{
		loans:     loans,
		loanRepo:  loanRepo,
		pool:      pool,
		batchSize: batchSize(config.BatchSize),
		metrics:   m,
		logger:    logger,
	}, nil
}

func NewSequentialBatchService(loans LoanService, loanRepo loan.Repository, size int, m *metrics.Metrics, logger *slog.Logger) *BatchServiceImpl {
	return &BatchServiceImpl{
		loans:     loans,
		loanRepo:  loanRepo,
		batchSize: batchSize(size),
		metrics:   m,
		logger:    logger,
	}
}

func batchSize(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// RunAccrual accrues interest and late fees to asOf on every active loan.
func (s *BatchServiceImpl) RunAccrual(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	return s.run(ctx, "accrual", func(ctx context.Context, loanID uuid.UUID) (bool, error) {
		before, err := s.loans.GetLoan(ctx, loanID)
		if err != nil {
			return false, err
		}
		after, err := s.loans.AccrueInterest(ctx, loanID, asOf)
		if err != nil {
			return false, err
		}
		return after.Version != before.Version, nil
	})
}

// RunOverdueScan stages a loan.overdue notice for every loan in arrears.
func (s *BatchServiceImpl) RunOverdueScan(ctx context.Context) (*BatchResult, error) {
	return s.run(ctx, "overdue", s.loans.FlagOverdue)
}

func (s *BatchServiceImpl) run(ctx context.Context, job string, task loanTask) (*BatchResult, error) {
	started := time.Now()
	logger := s.logger.With("job", job)
	logger.Info("Batch job started")

	var (
		processed, affected, failed atomic.Int64
		wg                          sync.WaitGroup
	)

	handle := func(id uuid.UUID) {
		changed, err := task(ctx, id)
		switch {
		case errors.Is(err, loan.ErrLoanNotActive):
			// Closed between listing and processing.
		case err != nil:
			failed.Add(1)
			logger.Error("Batch task failed", "loan_id", id.String(), "error", err)
		case changed:
			affected.Add(1)
		}
		processed.Add(1)
	}

	// Pages are listed before any task runs so that loans leaving the
	// active status do not shift the offsets.
	var ids []uuid.UUID
	for offset := 0; ; offset += s.batchSize {
		page, err := s.loanRepo.ListIDsByStatus(ctx, loan.StatusActive, s.batchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list active loans for %s: %w", job, err)
		}
		ids = append(ids, page...)
		if len(page) < s.batchSize {
			break
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		if s.pool == nil {
			handle(id)
			continue
		}

		id := id
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			handle(id)
		}); err != nil {
			wg.Done()
			failed.Add(1)
			processed.Add(1)
			logger.Error("Failed to submit loan to worker pool", "loan_id", id.String(), "error", err)
		}
	}
	wg.Wait()

	result := &BatchResult{
		Processed: processed.Load(),
		Affected:  affected.Load(),
		Failed:    failed.Load(),
		Duration:  time.Since(started),
	}
	s.metrics.BatchDuration(job, result.Duration)
	logger.Info("Batch job finished",
		"processed", result.Processed,
		"affected", result.Affected,
		"failed", result.Failed,
		"duration", result.Duration.String(),
	)
	return result, nil
}

// Shutdown releases the worker pool.
func (s *BatchServiceImpl) Shutdown() {
	if s.pool == nil {
		return
	}
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}
