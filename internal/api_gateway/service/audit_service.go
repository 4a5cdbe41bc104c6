package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/audit"
)

// AuditServiceImpl implements the AuditService interface
type AuditServiceImpl struct {
	auditRepo audit.Repository
	logger    *slog.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(logger *slog.Logger, auditRepo audit.Repository) AuditService {
	return &AuditServiceImpl{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// ListByLoan retrieves a page of audit records and the total count
func (s *AuditServiceImpl) ListByLoan(ctx context.Context, loanID uuid.UUID, page, perPage int) ([]*audit.Record, int64, error) {
	offset := (page - 1) * perPage

	records, err := s.auditRepo.ListByLoan(ctx, loanID, perPage, offset)
	if err != nil {
		s.logger.Error("Failed to list audit records", "loan_id", loanID.String(), "error", err)
		return nil, 0, err
	}

	total, err := s.auditRepo.CountByLoan(ctx, loanID)
	if err != nil {
		s.logger.Error("Failed to count audit records", "loan_id", loanID.String(), "error", err)
		return nil, 0, err
	}

	return records, total, nil
}
