package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/microloan-ledger/internal/domain/audit"
	"github.com/microloan-ledger/internal/domain/outbox"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/platform/messaging/producers"
)

// EventPublisher delivers one outbox message to its downstream consumers
type EventPublisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// EventPublisherImpl publishes loan events to Kafka and mirrors them into the
// audit store.
type EventPublisherImpl struct {
	outboxRepo outbox.Repository
	events     producers.EventPublisher
	auditRepo  audit.Repository
	logger     *slog.Logger
}

// NewEventPublisher creates a new publisher. auditRepo may be nil when the
// audit mirror is disabled.
func NewEventPublisher(
	outboxRepo outbox.Repository,
	events producers.EventPublisher,
	auditRepo audit.Repository,
	logger *slog.Logger,
) EventPublisher {
	return &EventPublisherImpl{
		outboxRepo: outboxRepo,
		events:     events,
		auditRepo:  auditRepo,
		logger:     logger,
	}
}

// Publish sends the stored payload keyed by loan id, records it for audit and
// marks the message as processed. Consumers must tolerate duplicates: a crash
// after the send but before the status update republishes the event.
func (p *EventPublisherImpl) Publish(ctx context.Context, message *outbox.Message) error {
	event, err := message.Event()
	if err != nil {
		p.logger.Error("Failed to unmarshal loan event from outbox payload",
			"outbox_id", message.ID, "event_id", message.EventID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	logger := p.logger.With("outbox_id", message.ID, "event_id", event.EventID, "loan_id", event.LoanID)
	logger.Debug("Attempting to publish loan event", "type", event.Type)

	if err := p.events.PublishEvent(ctx, event.LoanID.String(), string(event.Type), message.Payload); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}

	if p.auditRepo != nil {
		if err := p.auditRepo.Record(ctx, audit.NewRecord(event)); err != nil {
			logger.Error("Failed to record loan event in audit store", "error", err)
			return fmt.Errorf("failed to record audit for event %s: %w", event.EventID, err)
		}
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to update outbox message status to PROCESSED", "error", err)
		return fmt.Errorf("event %s published, but failed to mark outbox %d as PROCESSED: %w", event.EventID, message.ID, err)
	}

	logger.Info("Loan event published and outbox message marked as PROCESSED", "type", event.Type)
	return nil
}
