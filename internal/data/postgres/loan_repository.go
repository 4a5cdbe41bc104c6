// Package postgres provides PostgreSQL implementations of the domain repositories.
// Money columns are NUMERIC and map onto decimal.Decimal through the driver's
// sql.Scanner and driver.Valuer support.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, client_id, code, status, start_date, maturity_date, modality, monthly_rate,
		interest_mode, interest_base, days_in_month_convention, installment_amount, target_term_periods,
		late_fee_enabled, late_fee_daily_amount, late_fee_grace_period,
		principal_initial, principal_outstanding, interest_accrued, fees_accrued, balance_total,
		last_accrual_date, cancellation_reason, cancellation_date, version, created_at, updated_at`

// LoanRepository implements the loan.Repository interface for PostgreSQL
type LoanRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewLoanRepository creates a new PostgreSQL loan repository.
func NewLoanRepository(logger *slog.Logger, db *persistence.PostgresDB) loan.Repository {
	return &LoanRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the given transaction.
func (r *LoanRepository) WithTx(tx pgx.Tx) loan.Repository {
	return &LoanRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new loan.
func (r *LoanRepository) Create(ctx context.Context, l *loan.Loan) error {
	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	`

	_, err := r.querier.Exec(ctx, query,
		l.ID,
		l.ClientID,
		l.Code,
		l.Status,
		l.StartDate,
		l.MaturityDate,
		l.Modality,
		l.MonthlyRate,
		l.InterestMode,
		l.InterestBase,
		l.Convention,
		l.InstallmentAmount,
		l.TargetTermPeriods,
		l.LateFees.Enabled,
		l.LateFees.DailyAmount,
		l.LateFees.GracePeriod,
		l.PrincipalInitial,
		l.PrincipalOutstanding,
		l.InterestAccrued,
		l.FeesAccrued,
		l.BalanceTotal,
		l.LastAccrualDate,
		l.CancellationReason,
		l.CancellationDate,
		l.Version,
		l.CreatedAt,
		l.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create loan", "id", l.ID.String(), "error", err)
		return fmt.Errorf("failed to create loan: %w", err)
	}

	return nil
}

// GetByID retrieves a loan by its ID
func (r *LoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE id = $1
	`

	l, err := scanLoan(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loan.ErrLoanNotFound{LoanID: id}
		}
		r.logger.Error("Failed to get loan", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	return l, nil
}

// GetManyByClient loads the listed loans that belong to clientID. Loans owned
// by other clients are silently omitted so callers can detect the mismatch.
func (r *LoanRepository) GetManyByClient(ctx context.Context, clientID uuid.UUID, ids []uuid.UUID) ([]*loan.Loan, error) {
	query := `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE client_id = $1 AND id = ANY($2)
		ORDER BY start_date ASC, id ASC
	`

	rows, err := r.querier.Query(ctx, query, clientID, ids)
	if err != nil {
		r.logger.Error("Failed to get client loans", "client_id", clientID.String(), "error", err)
		return nil, fmt.Errorf("failed to get client loans: %w", err)
	}
	defer rows.Close()

	var loans []*loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			r.logger.Error("Failed to scan loan", "error", err)
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over loans", "error", err)
		return nil, fmt.Errorf("error iterating over loans: %w", err)
	}

	return loans, nil
}

// Update writes the mutable loan state guarded by the optimistic version.
func (r *LoanRepository) Update(ctx context.Context, l *loan.Loan) error {
	query := `
		UPDATE loans
		SET status = $1, maturity_date = $2, installment_amount = $3,
			principal_outstanding = $4, interest_accrued = $5, fees_accrued = $6, balance_total = $7,
			last_accrual_date = $8, cancellation_reason = $9, cancellation_date = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13
	`

	result, err := r.querier.Exec(ctx, query,
		l.Status,
		l.MaturityDate,
		l.InstallmentAmount,
		l.PrincipalOutstanding,
		l.InterestAccrued,
		l.FeesAccrued,
		l.BalanceTotal,
		l.LastAccrualDate,
		l.CancellationReason,
		l.CancellationDate,
		l.UpdatedAt,
		l.ID,
		l.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update loan", "id", l.ID.String(), "error", err)
		return fmt.Errorf("failed to update loan: %w", err)
	}

	if result.RowsAffected() == 0 {
		return loan.ErrConcurrentModification{LoanID: l.ID}
	}

	l.Version++
	return nil
}

// ListIDsByStatus pages through loan ids in a stable order.
func (r *LoanRepository) ListIDsByStatus(ctx context.Context, status loan.Status, limit, offset int) ([]uuid.UUID, error) {
	query := `
		SELECT id
		FROM loans
		WHERE status = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, status, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list loan ids", "status", string(status), "error", err)
		return nil, fmt.Errorf("failed to list loan ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan loan id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over loan ids: %w", err)
	}

	return ids, nil
}

// Stats counts active loans and sums their outstanding balance.
func (r *LoanRepository) Stats(ctx context.Context) (*loan.PortfolioStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(balance_total), 0)
		FROM loans
		WHERE status = $1
	`

	var stats loan.PortfolioStats
	err := r.querier.QueryRow(ctx, query, loan.StatusActive).Scan(&stats.ActiveLoans, &stats.PortfolioBalance)
	if err != nil {
		r.logger.Error("Failed to compute portfolio stats", "error", err)
		return nil, fmt.Errorf("failed to compute portfolio stats: %w", err)
	}

	return &stats, nil
}

// CreateRefinanceLink records that newLoanID paid off oldLoanID.
func (r *LoanRepository) CreateRefinanceLink(ctx context.Context, link *loan.RefinanceLink) error {
	query := `
		INSERT INTO loan_refinance_links (id, client_id, new_loan_id, old_loan_id, payoff_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query,
		link.ID,
		link.ClientID,
		link.NewLoanID,
		link.OldLoanID,
		link.PayoffAmount,
		link.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create refinance link",
			"new_loan_id", link.NewLoanID.String(),
			"old_loan_id", link.OldLoanID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create refinance link: %w", err)
	}

	return nil
}

// ListRefinanceLinks returns the loans paid off by newLoanID.
func (r *LoanRepository) ListRefinanceLinks(ctx context.Context, newLoanID uuid.UUID) ([]*loan.RefinanceLink, error) {
	query := `
		SELECT id, client_id, new_loan_id, old_loan_id, payoff_amount, created_at
		FROM loan_refinance_links
		WHERE new_loan_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.querier.Query(ctx, query, newLoanID)
	if err != nil {
		r.logger.Error("Failed to list refinance links", "new_loan_id", newLoanID.String(), "error", err)
		return nil, fmt.Errorf("failed to list refinance links: %w", err)
	}
	defer rows.Close()

	var links []*loan.RefinanceLink
	for rows.Next() {
		var link loan.RefinanceLink
		if err := rows.Scan(&link.ID, &link.ClientID, &link.NewLoanID, &link.OldLoanID, &link.PayoffAmount, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refinance link: %w", err)
		}
		links = append(links, &link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over refinance links: %w", err)
	}

	return links, nil
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var (
		l           loan.Loan
		termPeriods *int
		feeAmount   decimal.NullDecimal
		feeGrace    *int
	)

	err := row.Scan(
		&l.ID,
		&l.ClientID,
		&l.Code,
		&l.Status,
		&l.StartDate,
		&l.MaturityDate,
		&l.Modality,
		&l.MonthlyRate,
		&l.InterestMode,
		&l.InterestBase,
		&l.Convention,
		&l.InstallmentAmount,
		&termPeriods,
		&l.LateFees.Enabled,
		&feeAmount,
		&feeGrace,
		&l.PrincipalInitial,
		&l.PrincipalOutstanding,
		&l.InterestAccrued,
		&l.FeesAccrued,
		&l.BalanceTotal,
		&l.LastAccrualDate,
		&l.CancellationReason,
		&l.CancellationDate,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.TargetTermPeriods = termPeriods
	if feeAmount.Valid {
		amount := feeAmount.Decimal
		l.LateFees.DailyAmount = &amount
	}
	l.LateFees.GracePeriod = feeGrace

	return &l, nil
}
