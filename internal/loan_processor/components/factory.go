package components

import (
	"log/slog"

	"github.com/microloan-ledger/internal/config"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/outbox"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/platform/metrics"
	"github.com/microloan-ledger/internal/platform/persistence"
)

// Repositories groups the stores the loan services run on.
type Repositories struct {
	Loans    loan.Repository
	Ledger   ledger.Repository
	Payments payment.Repository
	Outbox   outbox.Repository
}

// Services is the wired set of loan services.
type Services struct {
	Payments   service.PaymentService
	Loans      service.LoanService
	Refinances service.RefinanceService
	Batch      service.BatchService
}

// CreateServices creates the loan services with all their dependencies. The
// late fee settings are read once here and injected into the engines.
func CreateServices(
	txRunner persistence.TxRunner,
	repos Repositories,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Services {
	settings := cfg.LateFee.Settings()

	interest := NewInterestEngine(repos.Ledger, m, logger.With("component", "interest_engine"))
	lateFees := NewLateFeeEngine(repos.Ledger, settings, m, logger.With("component", "late_fee_engine"))
	rewinder := NewLedgerRewinder(repos.Ledger, logger.With("component", "ledger_rewinder"))
	replay := NewReplayEngine(
		repos.Payments,
		repos.Ledger,
		interest,
		lateFees,
		rewinder,
		cfg.Replay.MaxIterations,
		m,
		logger.With("component", "replay_engine"),
	)
	originator := NewLoanOriginator(repos.Loans, repos.Ledger, replay, logger.With("component", "loan_originator"))
	outboxManager := NewOutboxManager(repos.Outbox, logger.With("component", "outbox_manager"))

	loans := service.NewLoanService(service.LoanServiceDeps{
		TxRunner:      txRunner,
		LoanRepo:      repos.Loans,
		LedgerRepo:    repos.Ledger,
		PaymentRepo:   repos.Payments,
		Interest:      interest,
		LateFees:      lateFees,
		Rewinder:      rewinder,
		Originator:    originator,
		OutboxManager: outboxManager,
		Settings:      settings,
		Metrics:       m,
		Logger:        logger.With("service", "loans"),
	})

	payments := service.NewPaymentService(
		txRunner,
		repos.Loans,
		repos.Payments,
		replay,
		rewinder,
		outboxManager,
		m,
		logger.With("service", "payments"),
	)

	refinances := service.NewRefinanceService(
		txRunner,
		repos.Loans,
		repos.Ledger,
		interest,
		lateFees,
		rewinder,
		originator,
		outboxManager,
		logger.With("service", "refinances"),
	)

	batch, err := service.NewWorkerPoolBatchService(
		loans,
		repos.Loans,
		service.WorkerPoolConfig{
			Size:      cfg.WorkerPool.Size,
			BatchSize: cfg.Accrual.BatchSize,
		},
		m,
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		logger.Error("Failed to create worker pool, falling back to sequential batch jobs", "error", err)
		batch = service.NewSequentialBatchService(loans, repos.Loans, cfg.Accrual.BatchSize, m, logger.With("component", "batch"))
	} else {
		logger.Info("Created worker pool batch service", "pool_size", cfg.WorkerPool.Size)
	}

	return &Services{
		Payments:   payments,
		Loans:      loans,
		Refinances: refinances,
		Batch:      batch,
	}
}
