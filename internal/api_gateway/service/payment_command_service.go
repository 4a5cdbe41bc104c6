package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/platform/messaging/producers"
)

// PaymentCommandServiceImpl implements the PaymentCommandService interface
type PaymentCommandServiceImpl struct {
	producer producers.MessagePublisher
	logger   *slog.Logger
}

// NewPaymentCommandService creates a new payment command service
func NewPaymentCommandService(logger *slog.Logger, producer producers.MessagePublisher) PaymentCommandService {
	return &PaymentCommandServiceImpl{
		producer: producer,
		logger:   logger,
	}
}

// SubmitPayment publishes the command. A missing command ID is generated.
func (s *PaymentCommandServiceImpl) SubmitPayment(ctx context.Context, command *shared.PaymentCommand) (uuid.UUID, error) {
	if command.CommandID == uuid.Nil {
		command.CommandID = uuid.New()
	}
	if err := command.Validate(); err != nil {
		return uuid.Nil, shared.NewValidationError("", err.Error())
	}

	key := command.LoanID.String()
	if err := s.producer.Publish(ctx, key, command); err != nil {
		s.logger.Error("Failed to publish payment command",
			"command_id", command.CommandID,
			"loan_id", command.LoanID,
			"amount", command.Amount.StringFixed(2),
			"error", err,
		)
		return uuid.Nil, err
	}

	s.logger.Info("Payment command published",
		"command_id", command.CommandID,
		"loan_id", command.LoanID,
		"amount", command.Amount.StringFixed(2),
	)

	return command.CommandID, nil
}
