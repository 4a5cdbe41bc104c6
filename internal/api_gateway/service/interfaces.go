package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/audit"
	"github.com/microloan-ledger/internal/domain/shared"
)

// PaymentCommandService queues payments for the loan worker
type PaymentCommandService interface {
	// SubmitPayment validates the command and publishes it keyed by loan id,
	// so commands of one loan are applied in order. Returns the command ID.
	SubmitPayment(ctx context.Context, command *shared.PaymentCommand) (uuid.UUID, error)
}

// AuditService reads the published event history of a loan
type AuditService interface {
	// ListByLoan returns one page of events, newest first, and the total count
	ListByLoan(ctx context.Context, loanID uuid.UUID, page, perPage int) ([]*audit.Record, int64, error)
}
