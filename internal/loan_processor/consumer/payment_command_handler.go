package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/platform/messaging/producers"
)

// PaymentCommandHandler registers payments received on the command topic.
type PaymentCommandHandler struct {
	paymentService service.PaymentService
	producer       producers.DeadLetterPublisher
	logger         *slog.Logger
}

// NewPaymentCommandHandler creates a new handler. producer may be nil when
// no dead letter topic is configured.
func NewPaymentCommandHandler(
	logger *slog.Logger,
	paymentService service.PaymentService,
	producer producers.DeadLetterPublisher,
) *PaymentCommandHandler {
	return &PaymentCommandHandler{
		paymentService: paymentService,
		producer:       producer,
		logger:         logger,
	}
}

// HandleMessage processes Kafka messages. A nil return commits the offset.
func (h *PaymentCommandHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var command shared.PaymentCommand
	if err := json.Unmarshal(value, &command); err != nil {
		return h.deadLetter(ctx, key, value, "Failed to unmarshal payment command from Kafka message", err)
	}
	if err := command.Validate(); err != nil {
		return h.deadLetter(ctx, key, value, "Invalid payment command", err)
	}

	logger := h.logger.With("command_id", command.CommandID.String())
	if command.CorrelationID != "" {
		logger = logger.With("correlation_id", command.CorrelationID)
	}

	reference := command.Reference
	if reference == "" {
		reference = command.CommandID.String()
	}

	duplicate, err := h.alreadyRegistered(ctx, &command, reference)
	if err != nil && !errors.Is(err, loan.ErrLoanNotFound{}) {
		return fmt.Errorf("checking payment command %s: %w", command.CommandID, err)
	}
	if duplicate {
		logger.Info("Payment command already applied, skipping", "loan_id", command.LoanID.String())
		return nil
	}

	logger.Info("Received payment command for processing",
		"loan_id", command.LoanID.String(),
		"paid_at", command.PaidAt.Format(time.DateOnly),
		"amount", command.Amount.StringFixed(2),
		"method", command.Method,
	)

	p, err := h.paymentService.RegisterPayment(ctx, service.RegisterPaymentRequest{
		LoanID:        command.LoanID,
		PaidAt:        command.PaidAt,
		Amount:        command.Amount,
		Method:        command.Method,
		Reference:     reference,
		Notes:         command.Notes,
		CorrelationID: command.CorrelationID,
	})
	if err != nil {
		if isPermanent(err) {
			return h.deadLetter(ctx, key, value, "Payment command rejected", err)
		}
		logger.Error("Failed to register payment", "loan_id", command.LoanID.String(), "error", err)
		return fmt.Errorf("processing payment command %s failed: %w", command.CommandID, err)
	}

	logger.Info("Successfully registered payment", "payment_id", p.ID.String(), "loan_id", command.LoanID.String())
	return nil
}

// alreadyRegistered reports whether a redelivered command was applied before
// its offset got committed.
func (h *PaymentCommandHandler) alreadyRegistered(ctx context.Context, command *shared.PaymentCommand, reference string) (bool, error) {
	payments, err := h.paymentService.ListPayments(ctx, command.LoanID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.Reference == reference && p.PaidAt.Format(time.DateOnly) == command.PaidAt.Format(time.DateOnly) && p.Amount.Equal(command.Amount) {
			return true, nil
		}
	}
	return false, nil
}

// deadLetter parks a message that can never succeed. When the DLQ is not
// available the error is returned so the message is retried.
func (h *PaymentCommandHandler) deadLetter(ctx context.Context, key, value []byte, msg string, cause error) error {
	h.logger.Error(msg, "error", cause, "message_key", string(key))

	if h.producer != nil {
		reason := fmt.Sprintf("%s: %s", msg, cause.Error())
		if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, reason); dlqErr != nil {
			h.logger.Error("Failed to publish message to DLQ",
				"dlq_error", dlqErr,
				"original_error", cause,
				"message_key", string(key),
			)
		} else {
			h.logger.Info("Successfully published unprocessable message to DLQ", "message_key", string(key), "reason", reason)
			return nil
		}
	}
	return fmt.Errorf("%s: %w", msg, cause)
}

func isPermanent(err error) bool {
	var validationErr *shared.ValidationError
	return errors.As(err, &validationErr) ||
		errors.Is(err, loan.ErrLoanNotActive) ||
		errors.Is(err, loan.ErrLoanNotFound{}) ||
		errors.Is(err, service.ErrReplayLimitExceeded)
}
