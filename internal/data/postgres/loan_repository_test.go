package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var loanColumnNames = []string{
	"id", "client_id", "code", "status", "start_date", "maturity_date", "modality", "monthly_rate",
	"interest_mode", "interest_base", "days_in_month_convention", "installment_amount", "target_term_periods",
	"late_fee_enabled", "late_fee_daily_amount", "late_fee_grace_period",
	"principal_initial", "principal_outstanding", "interest_accrued", "fees_accrued", "balance_total",
	"last_accrual_date", "cancellation_reason", "cancellation_date", "version", "created_at", "updated_at",
}

func testLoan() *loan.Loan {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	return &loan.Loan{
		ID:                   uuid.New(),
		ClientID:             uuid.New(),
		Code:                 "ML-0001",
		Status:               loan.StatusActive,
		StartDate:            start,
		MaturityDate:         start.AddDate(0, 10, 0),
		Modality:             finance.ModalityMonthly,
		MonthlyRate:          decimal.NewFromInt(5),
		InterestMode:         finance.InterestSimple,
		InterestBase:         finance.BasePrincipal,
		Convention:           finance.Convention30360,
		InstallmentAmount:    decimal.NewFromInt(1500),
		LateFees:             finance.LateFeePolicy{Enabled: true},
		PrincipalInitial:     decimal.NewFromInt(10000),
		PrincipalOutstanding: decimal.NewFromInt(10000),
		InterestAccrued:      decimal.Zero,
		FeesAccrued:          decimal.Zero,
		BalanceTotal:         decimal.NewFromInt(10000),
		LastAccrualDate:      &start,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func loanRow(l *loan.Loan, termPeriods *int, feeAmount any, feeGrace *int) []any {
	return []any{
		l.ID, l.ClientID, l.Code, l.Status, l.StartDate, l.MaturityDate, l.Modality, l.MonthlyRate,
		l.InterestMode, l.InterestBase, l.Convention, l.InstallmentAmount, termPeriods,
		l.LateFees.Enabled, feeAmount, feeGrace,
		l.PrincipalInitial, l.PrincipalOutstanding, l.InterestAccrued, l.FeesAccrued, l.BalanceTotal,
		l.LastAccrualDate, l.CancellationReason, l.CancellationDate, l.Version, l.CreatedAt, l.UpdatedAt,
	}
}

func TestLoanRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	l := testLoan()
	query := regexp.QuoteMeta("INSERT INTO loans (id, client_id, code, status")

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(loanRow(l, l.TargetTermPeriods, l.LateFees.DailyAmount, l.LateFees.GracePeriod)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, repo.Create(ctx, l))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		dbErr := errors.New("db error")
		mock.ExpectExec(query).WillReturnError(dbErr)

		err := repo.Create(ctx, l)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to create loan")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	expected := testLoan()
	query := regexp.QuoteMeta("FROM loans WHERE id = $1")

	t.Run("success without overrides", func(t *testing.T) {
		rows := pgxmock.NewRows(loanColumnNames).AddRow(loanRow(expected, nil, nil, nil)...)
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnRows(rows)

		got, err := repo.GetByID(ctx, expected.ID)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success with late fee overrides", func(t *testing.T) {
		terms, grace := 12, 5
		amount := decimal.RequireFromString("2.50")
		rows := pgxmock.NewRows(loanColumnNames).
			AddRow(loanRow(expected, &terms, decimal.NewNullDecimal(amount), &grace)...)
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnRows(rows)

		got, err := repo.GetByID(ctx, expected.ID)
		require.NoError(t, err)
		require.NotNil(t, got.TargetTermPeriods)
		assert.Equal(t, 12, *got.TargetTermPeriods)
		require.NotNil(t, got.LateFees.DailyAmount)
		assert.True(t, amount.Equal(*got.LateFees.DailyAmount))
		require.NotNil(t, got.LateFees.GracePeriod)
		assert.Equal(t, 5, *got.LateFees.GracePeriod)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnError(pgx.ErrNoRows)

		got, err := repo.GetByID(ctx, expected.ID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, loan.ErrLoanNotFound{LoanID: expected.ID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		dbErr := errors.New("some db error")
		mock.ExpectQuery(query).WithArgs(expected.ID).WillReturnError(dbErr)

		got, err := repo.GetByID(ctx, expected.ID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to get loan")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_GetManyByClient(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	first, second := testLoan(), testLoan()
	second.ClientID = first.ClientID
	ids := []uuid.UUID{first.ID, second.ID}

	rows := pgxmock.NewRows(loanColumnNames).
		AddRow(loanRow(first, nil, nil, nil)...).
		AddRow(loanRow(second, nil, nil, nil)...)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE client_id = $1 AND id = ANY($2)")).
		WithArgs(first.ClientID, ids).
		WillReturnRows(rows)

	loans, err := repo.GetManyByClient(ctx, first.ClientID, ids)
	require.NoError(t, err)
	assert.Len(t, loans, 2)
	assert.Equal(t, second.ID, loans[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	query := regexp.QuoteMeta("UPDATE loans SET status = $1")

	args := func(l *loan.Loan) []any {
		return []any{
			l.Status, l.MaturityDate, l.InstallmentAmount,
			l.PrincipalOutstanding, l.InterestAccrued, l.FeesAccrued, l.BalanceTotal,
			l.LastAccrualDate, l.CancellationReason, l.CancellationDate,
			l.UpdatedAt, l.ID, l.Version,
		}
	}

	t.Run("success bumps version", func(t *testing.T) {
		l := testLoan()
		mock.ExpectExec(query).WithArgs(args(l)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.Update(ctx, l))
		assert.Equal(t, 2, l.Version)

		// A second update in the same unit of work checks the bumped version
		mock.ExpectExec(query).WithArgs(args(l)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, repo.Update(ctx, l))
		assert.Equal(t, 3, l.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent modification", func(t *testing.T) {
		l := testLoan()
		mock.ExpectExec(query).WithArgs(args(l)...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.Update(ctx, l)
		var concurrentErr loan.ErrConcurrentModification
		require.ErrorAs(t, err, &concurrentErr)
		assert.Equal(t, l.ID, concurrentErr.LoanID)
		assert.Equal(t, 1, l.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanRepository_ListIDsByStatus(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM loans WHERE status = $1")).
		WithArgs(loan.StatusActive, 50, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id1).AddRow(id2))

	ids, err := repo.ListIDsByStatus(ctx, loan.StatusActive, 50, 100)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepository_Stats(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	balance := decimal.RequireFromString("15432.10")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COALESCE(SUM(balance_total), 0)")).
		WithArgs(loan.StatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(int64(3), balance))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.ActiveLoans)
	assert.True(t, balance.Equal(stats.PortfolioBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepository_RefinanceLinks(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &LoanRepository{querier: mock, logger: newTestLogger()}
	link := &loan.RefinanceLink{
		ID:           uuid.New(),
		ClientID:     uuid.New(),
		NewLoanID:    uuid.New(),
		OldLoanID:    uuid.New(),
		PayoffAmount: decimal.RequireFromString("3210.55"),
		CreatedAt:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO loan_refinance_links")).
		WithArgs(link.ID, link.ClientID, link.NewLoanID, link.OldLoanID, link.PayoffAmount, link.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.CreateRefinanceLink(ctx, link))

	mock.ExpectQuery(regexp.QuoteMeta("FROM loan_refinance_links WHERE new_loan_id = $1")).
		WithArgs(link.NewLoanID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "client_id", "new_loan_id", "old_loan_id", "payoff_amount", "created_at"}).
			AddRow(link.ID, link.ClientID, link.NewLoanID, link.OldLoanID, link.PayoffAmount, link.CreatedAt))

	links, err := repo.ListRefinanceLinks(ctx, link.NewLoanID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, link, links[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepository_WithTx(t *testing.T) {
	repo := &LoanRepository{querier: nil, logger: newTestLogger()}

	txRepo := repo.WithTx(pgx.Tx(nil))
	assert.IsType(t, &LoanRepository{}, txRepo)
}
