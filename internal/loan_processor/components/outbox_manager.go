package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/outbox"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
)

type OutboxManagerImpl struct {
	outboxRepo outbox.Repository
	logger     *slog.Logger
}

func NewOutboxManager(outboxRepo outbox.Repository, logger *slog.Logger) service.OutboxManager {
	return &OutboxManagerImpl{
		outboxRepo: outboxRepo,
		logger:     logger,
	}
}

// CreateOutboxEntry stages a loan event carrying the loan's current status
// and balance. It is published once the transaction commits.
func (m *OutboxManagerImpl) CreateOutboxEntry(ctx context.Context, tx pgx.Tx, eventType shared.EventType, l *loan.Loan, data any) error {
	event, err := shared.NewLoanEvent(eventType, l.ID, l.ClientID, string(l.Status), l.BalanceTotal, data)
	if err != nil {
		m.logger.Error("Failed to build loan event",
			"loan_id", l.ID.String(),
			"event_type", string(eventType),
			"error", err,
		)
		return fmt.Errorf("failed to build %s event for loan %s: %w", eventType, l.ID.String(), err)
	}

	outboxMessage, err := outbox.NewMessage(event)
	if err != nil {
		m.logger.Error("Failed to create new outbox message (marshal payload)",
			"loan_id", l.ID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox message payload for loan %s: %w", l.ID.String(), err)
	}

	if err := m.outboxRepo.WithTx(tx).Create(ctx, outboxMessage); err != nil {
		m.logger.Error("Failed to create outbox message",
			"loan_id", l.ID.String(),
			"event_type", string(eventType),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox message for loan %s: %w", l.ID.String(), err)
	}

	m.logger.Debug("Outbox message created",
		"loan_id", l.ID.String(),
		"event_type", string(eventType),
		"outbox_id", outboxMessage.ID,
	)
	return nil
}
