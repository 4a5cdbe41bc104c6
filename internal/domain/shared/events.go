package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a loan lifecycle event published to the event stream.
type EventType string

const (
	EventLoanDisbursed     EventType = "loan.disbursed"
	EventLoanAccrued       EventType = "loan.accrued"
	EventLoanClosed        EventType = "loan.closed"
	EventLoanRefinanced    EventType = "loan.refinanced"
	EventLoanCancelled     EventType = "loan.cancelled"
	EventLoanWrittenOff    EventType = "loan.written_off"
	EventLoanOverdue       EventType = "loan.overdue"
	EventPaymentRegistered EventType = "payment.registered"
	EventPaymentDeleted    EventType = "payment.deleted"
)

// OutboxStatus defines message publishing states
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusProcessed       OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPublish OutboxStatus = "FAILED_TO_PUBLISH"
)

// LoanEvent is the envelope written to the outbox and published on the
// loan events topic.
type LoanEvent struct {
	EventID      uuid.UUID       `json:"event_id"`
	Type         EventType       `json:"type"`
	LoanID       uuid.UUID       `json:"loan_id"`
	ClientID     uuid.UUID       `json:"client_id"`
	Status       string          `json:"status"`
	BalanceTotal decimal.Decimal `json:"balance_total"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// NewLoanEvent stamps an event with a fresh id. data is marshalled as the
// event body and may be nil.
func NewLoanEvent(eventType EventType, loanID, clientID uuid.UUID, status string, balance decimal.Decimal, data any) (*LoanEvent, error) {
	ev := &LoanEvent{
		EventID:      uuid.New(),
		Type:         eventType,
		LoanID:       loanID,
		ClientID:     clientID,
		Status:       status,
		BalanceTotal: balance,
		OccurredAt:   time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return ev, nil
}
