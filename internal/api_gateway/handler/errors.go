package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
)

// respondServiceError maps a service error onto the response envelope.
// Unexpected errors are logged here and hidden from the caller.
func respondServiceError(c *gin.Context, logger *slog.Logger, op string, err error) {
	var (
		validationErr *shared.ValidationError
		conflictErr   loan.ErrConcurrentModification
	)
	switch {
	case errors.As(err, &validationErr):
		RespondValidationError(c, validationErr.Field, validationErr.Error(), validationErr.Details)
	case errors.Is(err, loan.ErrLoanNotFound{}):
		RespondNotFound(c, "Loan not found")
	case errors.Is(err, payment.ErrPaymentNotFound{}):
		RespondNotFound(c, "Payment not found")
	case errors.As(err, &conflictErr):
		RespondConflict(c, "Loan was modified concurrently, retry the request")
	case errors.Is(err, loan.ErrLoanNotActive):
		RespondConflict(c, "Loan is not active")
	case errors.Is(err, processor.ErrReplayLimitExceeded):
		RespondWithError(c, http.StatusUnprocessableEntity, "REPLAY_LIMIT_EXCEEDED", err.Error())
	default:
		logger.Error("Failed to "+op, "error", err)
		RespondInternalError(c)
	}
}

// parseIDParam reads a uuid path parameter, answering 400 when it is malformed.
func parseIDParam(c *gin.Context, logger *slog.Logger, name, label string) (uuid.UUID, bool) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Warn("Invalid "+label+" ID", "id", raw, "error", err)
		RespondBadRequest(c, "Invalid "+label+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// parseDate parses a YYYY-MM-DD field, answering 400 when it is malformed.
func parseDate(c *gin.Context, field, raw string) (time.Time, bool) {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		RespondBadRequest(c, "Invalid "+field+", expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

// parseOptionalDate parses raw when present.
func parseOptionalDate(c *gin.Context, field, raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	t, ok := parseDate(c, field, raw)
	if !ok {
		return nil, false
	}
	return &t, true
}
