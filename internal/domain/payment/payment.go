package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ReplayMarker is appended once to the notes of a payment re-registered by
// the replay protocol.
const ReplayMarker = "(replayed)"

// Payment is the user-facing record of cash received. It mirrors exactly one
// payment ledger entry.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	Seq              int64           `json:"seq"`
	LoanID           uuid.UUID       `json:"loan_id"`
	ClientID         uuid.UUID       `json:"client_id"`
	LedgerEntryID    uuid.UUID       `json:"ledger_entry_id"`
	PaidAt           time.Time       `json:"paid_at"`
	Amount           decimal.Decimal `json:"amount"`
	Method           string          `json:"method"`
	Reference        string          `json:"reference,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	AppliedFees      decimal.Decimal `json:"applied_fees"`
	AppliedInterest  decimal.Decimal `json:"applied_interest"`
	AppliedPrincipal decimal.Decimal `json:"applied_principal"`
	ExcessAmount     decimal.Decimal `json:"excess_amount"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Applied is the part of the payment that reduced the loan.
func (p *Payment) Applied() decimal.Decimal {
	return p.AppliedFees.Add(p.AppliedInterest).Add(p.AppliedPrincipal)
}

// Allocation splits a payment across the loan components.
type Allocation struct {
	Fees      decimal.Decimal
	Interest  decimal.Decimal
	Principal decimal.Decimal
	// Excess is the part of the payment nothing was owed against.
	Excess decimal.Decimal
}

// Applied is the part of the payment that reduces the loan.
func (a Allocation) Applied() decimal.Decimal {
	return a.Fees.Add(a.Interest).Add(a.Principal)
}

// Allocate pays fees first, then interest, then principal, each capped at
// what is owed. Negative balances are treated as nothing owed.
func Allocate(amount, fees, interest, principal decimal.Decimal) Allocation {
	remaining := amount
	take := func(owed decimal.Decimal) decimal.Decimal {
		paid := decimal.Min(remaining, decimal.Max(owed, decimal.Zero))
		remaining = remaining.Sub(paid)
		return paid
	}

	a := Allocation{
		Fees:      take(fees),
		Interest:  take(interest),
		Principal: take(principal),
	}
	a.Excess = remaining
	return a
}

// ReplayNotes returns notes carrying the replay marker exactly once.
func ReplayNotes(notes string) string {
	if strings.Contains(notes, ReplayMarker) {
		return notes
	}
	if notes == "" {
		return ReplayMarker
	}
	return notes + " " + ReplayMarker
}

// Repository defines payment persistence operations
type Repository interface {
	Create(ctx context.Context, payment *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*Payment, error)
	CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error)

	// ListFrom returns payments at or after from (inclusive) or strictly
	// after it, oldest first, skipping excludeID.
	ListFrom(ctx context.Context, loanID uuid.UUID, from time.Time, inclusive bool, excludeID uuid.UUID) ([]*Payment, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) error

	WithTx(tx pgx.Tx) Repository
}

// ErrPaymentNotFound indicates missing payment
type ErrPaymentNotFound struct {
	PaymentID uuid.UUID
}

func (e ErrPaymentNotFound) Error() string {
	return "payment not found: " + e.PaymentID.String()
}

// Is matches any ErrPaymentNotFound when the target carries no id.
func (e ErrPaymentNotFound) Is(target error) bool {
	t, ok := target.(ErrPaymentNotFound)
	if !ok {
		return false
	}
	return t.PaymentID == uuid.Nil || t.PaymentID == e.PaymentID
}
