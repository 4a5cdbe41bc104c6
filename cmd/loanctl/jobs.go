package main

import (
	"fmt"
	"io"
	"time"

	"github.com/microloan-ledger/internal/data/postgres"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/loan_processor/components"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/spf13/cobra"
)

// batchJob runs one portfolio job against the configured database.
type batchJob func(cmd *cobra.Command, batch service.BatchService) (*service.BatchResult, error)

func runBatch(cmd *cobra.Command, name string, job batchJob) error {
	cfg, log, err := loadEnv()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	postgresDB, err := persistence.NewPostgresDB(ctx, log, &cfg.Postgres)
	if err != nil {
		return err
	}
	defer postgresDB.Close()

	services := components.CreateServices(postgresDB, components.Repositories{
		Loans:    postgres.NewLoanRepository(log, postgresDB),
		Ledger:   postgres.NewLedgerRepository(log, postgresDB),
		Payments: postgres.NewPaymentRepository(log, postgresDB),
		Outbox:   postgres.NewOutboxRepository(log, postgresDB),
	}, cfg, nil, log)
	defer services.Batch.Shutdown()

	result, err := job(cmd, services.Batch)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	printBatchResult(cmd.OutOrStdout(), name, result)
	return nil
}

func printBatchResult(w io.Writer, name string, result *service.BatchResult) {
	fmt.Fprintf(w, "%-10s %10s %10s %10s %12s\n", "JOB", "PROCESSED", "AFFECTED", "FAILED", "DURATION")
	fmt.Fprintf(w, "%-10s %10d %10d %10d %12s\n", name, result.Processed, result.Affected, result.Failed, result.Duration.Round(time.Millisecond))
}

func newAccrueCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Accrue interest and late fees on every active loan",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := finance.StartOfDay(time.Now().UTC())
			if asOf != "" {
				parsed, err := time.Parse(time.DateOnly, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of, expected YYYY-MM-DD: %w", err)
				}
				date = parsed
			}
			return runBatch(cmd, "accrual", func(cmd *cobra.Command, batch service.BatchService) (*service.BatchResult, error) {
				return batch.RunAccrual(commandContext(cmd), date)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Accrual date (YYYY-MM-DD), defaults to today")
	return cmd
}

func newOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "Stage a loan.overdue event for every active loan in arrears",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, "overdue", func(cmd *cobra.Command, batch service.BatchService) (*service.BatchResult, error) {
				return batch.RunOverdueScan(commandContext(cmd))
			})
		},
	}
}
