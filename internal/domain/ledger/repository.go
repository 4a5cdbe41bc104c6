package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository manages ledger entry persistence. Listing methods return entries
// in canonical (occurred_at, seq) order unless stated otherwise.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	ListByLoan(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error)

	// ListFrom returns entries at or after from (inclusive) or strictly after
	// it, newest first, as the rollback protocol consumes them.
	ListFrom(ctx context.Context, loanID uuid.UUID, from time.Time, inclusive bool) ([]*Entry, error)
	ExistsAfter(ctx context.Context, loanID uuid.UUID, after time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AttachPayment(ctx context.Context, entryID, paymentID uuid.UUID) error

	// LatestOccurredAt returns the occurrence of the newest entry whose type
	// is not excluded, or nil when none remain.
	LatestOccurredAt(ctx context.Context, loanID uuid.UUID, exclude ...EntryType) (*time.Time, error)
	LatestOccurredAtOfType(ctx context.Context, loanID uuid.UUID, typ EntryType) (*time.Time, error)

	SumAmountByType(ctx context.Context, loanID uuid.UUID, typ EntryType) (decimal.Decimal, error)
	SumDeltas(ctx context.Context, loanID uuid.UUID) (Totals, error)
	// SumDeltasByTypeBetween aggregates across all loans, for reporting.
	SumDeltasByTypeBetween(ctx context.Context, typ EntryType, from, to time.Time) (Totals, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrEntryNotFound indicates missing ledger entry
type ErrEntryNotFound struct {
	EntryID uuid.UUID
}

func (e ErrEntryNotFound) Error() string {
	return "ledger entry not found: " + e.EntryID.String()
}

// Is implements the errors.Is interface for ErrEntryNotFound
func (e ErrEntryNotFound) Is(target error) bool {
	t, ok := target.(ErrEntryNotFound)
	if !ok {
		return false
	}
	// If the target EntryID is empty, consider it a match for any ErrEntryNotFound
	if t.EntryID == uuid.Nil {
		return true
	}
	return e.EntryID == t.EntryID
}
