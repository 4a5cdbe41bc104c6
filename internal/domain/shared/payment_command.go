package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingLoanID  = errors.New("loan id is required")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrMissingMethod  = errors.New("payment method is required")
	ErrMissingPaidAt  = errors.New("paid_at is required")
	ErrMissingCommand = errors.New("command id is required")
)

// PaymentCommand is a Kafka message asking the processor to register a
// payment, typically produced by bank feed imports.
type PaymentCommand struct {
	CommandID     uuid.UUID       `json:"command_id"`
	LoanID        uuid.UUID       `json:"loan_id"`
	PaidAt        time.Time       `json:"paid_at"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate checks the fields a payment cannot be registered without.
func (c *PaymentCommand) Validate() error {
	if c.CommandID == uuid.Nil {
		return ErrMissingCommand
	}
	if c.LoanID == uuid.Nil {
		return ErrMissingLoanID
	}
	if c.PaidAt.IsZero() {
		return ErrMissingPaidAt
	}
	if !c.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if c.Method == "" {
		return ErrMissingMethod
	}
	return nil
}
