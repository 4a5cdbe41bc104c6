package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	TypeDisbursement    EntryType = "disbursement"
	TypeInterestAccrual EntryType = "interest_accrual"
	TypeFeeAccrual      EntryType = "fee_accrual"
	TypePayment         EntryType = "payment"
	TypeAdjustment      EntryType = "adjustment"
	TypeRefinancePayoff EntryType = "refinance_payoff"
	TypeWriteOff        EntryType = "write_off"
	TypeCancellation    EntryType = "cancellation"
)

// Meta is free-form provenance stored alongside an entry.
type Meta map[string]any

// Entry is one immutable financial event on a loan. Entries are ordered by
// (OccurredAt, Seq).
type Entry struct {
	ID             uuid.UUID       `json:"id"`
	Seq            int64           `json:"seq"`
	LoanID         uuid.UUID       `json:"loan_id"`
	PaymentID      *uuid.UUID      `json:"payment_id,omitempty"`
	Type           EntryType       `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Amount         decimal.Decimal `json:"amount"`
	PrincipalDelta decimal.Decimal `json:"principal_delta"`
	InterestDelta  decimal.Decimal `json:"interest_delta"`
	FeesDelta      decimal.Decimal `json:"fees_delta"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Meta           Meta            `json:"meta,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewEntry builds an entry with a fresh id. Seq is assigned on insert.
func NewEntry(loanID uuid.UUID, typ EntryType, occurredAt time.Time, amount decimal.Decimal, deltas Totals, balanceAfter decimal.Decimal, meta Meta) *Entry {
	return &Entry{
		ID:             uuid.New(),
		LoanID:         loanID,
		Type:           typ,
		OccurredAt:     occurredAt,
		Amount:         amount,
		PrincipalDelta: deltas.Principal,
		InterestDelta:  deltas.Interest,
		FeesDelta:      deltas.Fees,
		BalanceAfter:   balanceAfter,
		Meta:           meta,
		CreatedAt:      time.Now().UTC(),
	}
}

// Deltas returns the entry's three signed components.
func (e *Entry) Deltas() Totals {
	return Totals{Principal: e.PrincipalDelta, Interest: e.InterestDelta, Fees: e.FeesDelta}
}

// Totals is a per-component sum of deltas.
type Totals struct {
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Fees      decimal.Decimal `json:"fees"`
}

// Sum is principal + interest + fees.
func (t Totals) Sum() decimal.Decimal {
	return t.Principal.Add(t.Interest).Add(t.Fees)
}

// Neg flips the sign of every component.
func (t Totals) Neg() Totals {
	return Totals{Principal: t.Principal.Neg(), Interest: t.Interest.Neg(), Fees: t.Fees.Neg()}
}

// Add returns the component-wise sum.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		Principal: t.Principal.Add(o.Principal),
		Interest:  t.Interest.Add(o.Interest),
		Fees:      t.Fees.Add(o.Fees),
	}
}
