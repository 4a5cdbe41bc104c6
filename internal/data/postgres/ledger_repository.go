package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const entryColumns = `id, seq, loan_id, payment_id, type, occurred_at, amount,
		principal_delta, interest_delta, fees_delta, balance_after, meta, created_at`

// LedgerRepository implements the ledger.Repository interface for PostgreSQL
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the given transaction.
func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create appends an entry and fills in its database-assigned sequence.
func (r *LedgerRepository) Create(ctx context.Context, entry *ledger.Entry) error {
	meta, err := marshalMeta(entry.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_entries (id, loan_id, payment_id, type, occurred_at, amount,
			principal_delta, interest_delta, fees_delta, balance_after, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`

	err = r.querier.QueryRow(ctx, query,
		entry.ID,
		entry.LoanID,
		entry.PaymentID,
		entry.Type,
		entry.OccurredAt,
		entry.Amount,
		entry.PrincipalDelta,
		entry.InterestDelta,
		entry.FeesDelta,
		entry.BalanceAfter,
		meta,
		entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		r.logger.Error("Failed to create ledger entry",
			"loan_id", entry.LoanID.String(),
			"type", string(entry.Type),
			"error", err,
		)
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

// ListByLoan pages through a loan's entries in canonical order.
func (r *LedgerRepository) ListByLoan(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE loan_id = $1
		ORDER BY occurred_at ASC, seq ASC
		LIMIT $2 OFFSET $3
	`

	return r.queryEntries(ctx, "list ledger entries", query, loanID, limit, offset)
}

// CountByLoan returns the number of entries recorded for a loan.
func (r *LedgerRepository) CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM ledger_entries WHERE loan_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, loanID).Scan(&count); err != nil {
		r.logger.Error("Failed to count ledger entries", "loan_id", loanID.String(), "error", err)
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	return count, nil
}

// ListFrom returns the entries to unwind, newest first.
func (r *LedgerRepository) ListFrom(ctx context.Context, loanID uuid.UUID, from time.Time, inclusive bool) ([]*ledger.Entry, error) {
	op := ">"
	if inclusive {
		op = ">="
	}

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE loan_id = $1 AND occurred_at ` + op + ` $2
		ORDER BY occurred_at DESC, seq DESC
	`

	return r.queryEntries(ctx, "list ledger entries for rollback", query, loanID, from)
}

// ExistsAfter reports whether any entry occurs strictly after the instant.
func (r *LedgerRepository) ExistsAfter(ctx context.Context, loanID uuid.UUID, after time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE loan_id = $1 AND occurred_at > $2)`

	var exists bool
	if err := r.querier.QueryRow(ctx, query, loanID, after).Scan(&exists); err != nil {
		r.logger.Error("Failed to check later ledger entries", "loan_id", loanID.String(), "error", err)
		return false, fmt.Errorf("failed to check later ledger entries: %w", err)
	}

	return exists, nil
}

// Delete removes an entry. Only the rollback protocol deletes entries.
func (r *LedgerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM ledger_entries WHERE id = $1`

	result, err := r.querier.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete ledger entry", "id", id.String(), "error", err)
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ledger.ErrEntryNotFound{EntryID: id}
	}

	return nil
}

// AttachPayment links a payment entry to the payment row written after it.
func (r *LedgerRepository) AttachPayment(ctx context.Context, entryID, paymentID uuid.UUID) error {
	query := `UPDATE ledger_entries SET payment_id = $1 WHERE id = $2`

	result, err := r.querier.Exec(ctx, query, paymentID, entryID)
	if err != nil {
		r.logger.Error("Failed to attach payment to ledger entry", "entry_id", entryID.String(), "error", err)
		return fmt.Errorf("failed to attach payment to ledger entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ledger.ErrEntryNotFound{EntryID: entryID}
	}

	return nil
}

// LatestOccurredAt returns the newest occurrence among entries whose type is
// not excluded.
func (r *LedgerRepository) LatestOccurredAt(ctx context.Context, loanID uuid.UUID, exclude ...ledger.EntryType) (*time.Time, error) {
	excluded := make([]string, 0, len(exclude))
	for _, t := range exclude {
		excluded = append(excluded, string(t))
	}

	query := `
		SELECT MAX(occurred_at)
		FROM ledger_entries
		WHERE loan_id = $1 AND NOT (type = ANY($2))
	`

	var latest *time.Time
	if err := r.querier.QueryRow(ctx, query, loanID, excluded).Scan(&latest); err != nil {
		r.logger.Error("Failed to get latest ledger entry", "loan_id", loanID.String(), "error", err)
		return nil, fmt.Errorf("failed to get latest ledger entry: %w", err)
	}

	return latest, nil
}

// LatestOccurredAtOfType returns the newest occurrence of one entry type.
func (r *LedgerRepository) LatestOccurredAtOfType(ctx context.Context, loanID uuid.UUID, typ ledger.EntryType) (*time.Time, error) {
	query := `
		SELECT MAX(occurred_at)
		FROM ledger_entries
		WHERE loan_id = $1 AND type = $2
	`

	var latest *time.Time
	if err := r.querier.QueryRow(ctx, query, loanID, typ).Scan(&latest); err != nil {
		r.logger.Error("Failed to get latest ledger entry by type",
			"loan_id", loanID.String(),
			"type", string(typ),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get latest ledger entry by type: %w", err)
	}

	return latest, nil
}

// SumAmountByType totals the amount column for one entry type.
func (r *LedgerRepository) SumAmountByType(ctx context.Context, loanID uuid.UUID, typ ledger.EntryType) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE loan_id = $1 AND type = $2
	`

	var sum decimal.Decimal
	if err := r.querier.QueryRow(ctx, query, loanID, typ).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum ledger amounts", "loan_id", loanID.String(), "error", err)
		return decimal.Zero, fmt.Errorf("failed to sum ledger amounts: %w", err)
	}

	return sum, nil
}

// SumDeltas totals every component delta of a loan, for reconciliation.
func (r *LedgerRepository) SumDeltas(ctx context.Context, loanID uuid.UUID) (ledger.Totals, error) {
	query := `
		SELECT COALESCE(SUM(principal_delta), 0), COALESCE(SUM(interest_delta), 0), COALESCE(SUM(fees_delta), 0)
		FROM ledger_entries
		WHERE loan_id = $1
	`

	var totals ledger.Totals
	err := r.querier.QueryRow(ctx, query, loanID).Scan(&totals.Principal, &totals.Interest, &totals.Fees)
	if err != nil {
		r.logger.Error("Failed to sum ledger deltas", "loan_id", loanID.String(), "error", err)
		return ledger.Totals{}, fmt.Errorf("failed to sum ledger deltas: %w", err)
	}

	return totals, nil
}

// SumDeltasByTypeBetween totals deltas of one type over [from, to) across
// the whole portfolio.
func (r *LedgerRepository) SumDeltasByTypeBetween(ctx context.Context, typ ledger.EntryType, from, to time.Time) (ledger.Totals, error) {
	query := `
		SELECT COALESCE(SUM(principal_delta), 0), COALESCE(SUM(interest_delta), 0), COALESCE(SUM(fees_delta), 0)
		FROM ledger_entries
		WHERE type = $1 AND occurred_at >= $2 AND occurred_at < $3
	`

	var totals ledger.Totals
	err := r.querier.QueryRow(ctx, query, typ, from, to).Scan(&totals.Principal, &totals.Interest, &totals.Fees)
	if err != nil {
		r.logger.Error("Failed to sum portfolio ledger deltas", "type", string(typ), "error", err)
		return ledger.Totals{}, fmt.Errorf("failed to sum portfolio ledger deltas: %w", err)
	}

	return totals, nil
}

func (r *LedgerRepository) queryEntries(ctx context.Context, action, query string, args ...any) ([]*ledger.Entry, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+action, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var (
			entry ledger.Entry
			meta  []byte
		)
		err := rows.Scan(
			&entry.ID,
			&entry.Seq,
			&entry.LoanID,
			&entry.PaymentID,
			&entry.Type,
			&entry.OccurredAt,
			&entry.Amount,
			&entry.PrincipalDelta,
			&entry.InterestDelta,
			&entry.FeesDelta,
			&entry.BalanceAfter,
			&meta,
			&entry.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode ledger entry meta: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over ledger entries", "error", err)
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}

	return entries, nil
}

func marshalMeta(meta ledger.Meta) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger entry meta: %w", err)
	}
	return b, nil
}
