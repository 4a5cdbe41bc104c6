// Package audit defines the read-optimised history of published loan events.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/shared"
)

// Record is one loan event as mirrored into the audit store. Amounts are kept
// as decimal strings so no precision is lost in the document database.
type Record struct {
	EventID      uuid.UUID        `json:"event_id"`
	Type         shared.EventType `json:"type"`
	LoanID       uuid.UUID        `json:"loan_id"`
	ClientID     uuid.UUID        `json:"client_id"`
	Status       string           `json:"status"`
	BalanceTotal string           `json:"balance_total"`
	OccurredAt   time.Time        `json:"occurred_at"`
	RecordedAt   time.Time        `json:"recorded_at"`
	Data         json.RawMessage  `json:"data,omitempty"`
}

// NewRecord converts a published event into its audit form.
func NewRecord(ev *shared.LoanEvent) *Record {
	return &Record{
		EventID:      ev.EventID,
		Type:         ev.Type,
		LoanID:       ev.LoanID,
		ClientID:     ev.ClientID,
		Status:       ev.Status,
		BalanceTotal: ev.BalanceTotal.StringFixed(2),
		OccurredAt:   ev.OccurredAt,
		RecordedAt:   time.Now().UTC(),
		Data:         ev.Data,
	}
}

// Repository stores audit records. Record is idempotent on EventID.
type Repository interface {
	Record(ctx context.Context, record *Record) error
	ListByLoan(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*Record, error)
	CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error)
}
