package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/platform/persistence"
)

const paymentColumns = `id, seq, loan_id, client_id, ledger_entry_id, paid_at, amount, method, reference, notes,
		applied_fees, applied_interest, applied_principal, excess_amount, created_at`

// PaymentRepository implements the payment.Repository interface for PostgreSQL
type PaymentRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewPaymentRepository creates a new PostgreSQL payment repository
func NewPaymentRepository(logger *slog.Logger, db *persistence.PostgresDB) payment.Repository {
	return &PaymentRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the given transaction.
func (r *PaymentRepository) WithTx(tx pgx.Tx) payment.Repository {
	return &PaymentRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a payment and fills in its sequence number.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	query := `
		INSERT INTO loan_payments (id, loan_id, client_id, ledger_entry_id, paid_at, amount, method, reference, notes,
			applied_fees, applied_interest, applied_principal, excess_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq
	`

	err := r.querier.QueryRow(ctx, query,
		p.ID,
		p.LoanID,
		p.ClientID,
		p.LedgerEntryID,
		p.PaidAt,
		p.Amount,
		p.Method,
		p.Reference,
		p.Notes,
		p.AppliedFees,
		p.AppliedInterest,
		p.AppliedPrincipal,
		p.ExcessAmount,
		p.CreatedAt,
	).Scan(&p.Seq)
	if err != nil {
		r.logger.Error("Failed to create payment", "loan_id", p.LoanID.String(), "error", err)
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by its ID
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM loan_payments
		WHERE id = $1
	`

	p, err := scanPayment(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrPaymentNotFound{PaymentID: id}
		}
		r.logger.Error("Failed to get payment", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return p, nil
}

// ListByLoan returns all payments of a loan in paid_at order.
func (r *PaymentRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*payment.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM loan_payments
		WHERE loan_id = $1
		ORDER BY paid_at ASC, seq ASC
	`

	return r.queryPayments(ctx, "list payments", query, loanID)
}

// CountByLoan returns the number of payments recorded against a loan.
func (r *PaymentRepository) CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM loan_payments WHERE loan_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, loanID).Scan(&count); err != nil {
		r.logger.Error("Failed to count payments", "loan_id", loanID.String(), "error", err)
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}

	return count, nil
}

// ListFrom returns the payments to replay, oldest first.
func (r *PaymentRepository) ListFrom(ctx context.Context, loanID uuid.UUID, from time.Time, inclusive bool, excludeID uuid.UUID) ([]*payment.Payment, error) {
	op := ">"
	if inclusive {
		op = ">="
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM loan_payments
		WHERE loan_id = $1 AND paid_at ` + op + ` $2 AND id <> $3
		ORDER BY paid_at ASC, seq ASC
	`

	return r.queryPayments(ctx, "list payments for replay", query, loanID, from, excludeID)
}

// DeleteByIDs removes the listed payments.
func (r *PaymentRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := `DELETE FROM loan_payments WHERE id = ANY($1)`

	if _, err := r.querier.Exec(ctx, query, ids); err != nil {
		r.logger.Error("Failed to delete payments", "count", len(ids), "error", err)
		return fmt.Errorf("failed to delete payments: %w", err)
	}

	return nil
}

func (r *PaymentRepository) queryPayments(ctx context.Context, action, query string, args ...any) ([]*payment.Payment, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+action, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			r.logger.Error("Failed to scan payment", "error", err)
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over payments", "error", err)
		return nil, fmt.Errorf("error iterating over payments: %w", err)
	}

	return payments, nil
}

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID,
		&p.Seq,
		&p.LoanID,
		&p.ClientID,
		&p.LedgerEntryID,
		&p.PaidAt,
		&p.Amount,
		&p.Method,
		&p.Reference,
		&p.Notes,
		&p.AppliedFees,
		&p.AppliedInterest,
		&p.AppliedPrincipal,
		&p.ExcessAmount,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
