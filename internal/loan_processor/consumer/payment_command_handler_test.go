package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockPaymentService for testing
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) RegisterPayment(ctx context.Context, request service.RegisterPaymentRequest) (*payment.Payment, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentService) DeletePayment(ctx context.Context, paymentID uuid.UUID) error {
	args := m.Called(ctx, paymentID)
	return args.Error(0)
}

func (m *MockPaymentService) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*payment.Payment, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Payment), args.Error(1)
}

// MockDeadLetterPublisher for testing
type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, key string, value []byte, reason string) error {
	args := m.Called(ctx, key, value, reason)
	return args.Error(0)
}

func (m *MockDeadLetterPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestHandleMessage(t *testing.T) {
	logger := slog.Default()
	paidAt := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	command := &shared.PaymentCommand{
		CommandID:     uuid.New(),
		LoanID:        uuid.New(),
		PaidAt:        paidAt,
		Amount:        decimal.RequireFromString("150"),
		Method:        "transfer",
		CorrelationID: "corr1",
		Timestamp:     time.Now(),
	}
	validJSON, err := json.Marshal(command)
	assert.NoError(t, err)

	invalid := *command
	invalid.Amount = decimal.Zero
	invalidJSON, err := json.Marshal(&invalid)
	assert.NoError(t, err)

	matchesCommand := mock.MatchedBy(func(r service.RegisterPaymentRequest) bool {
		return r.LoanID == command.LoanID &&
			r.Amount.Equal(command.Amount) &&
			r.Reference == command.CommandID.String() &&
			r.CorrelationID == "corr1"
	})

	var (
		mockPaymentService *MockPaymentService
		mockDLQPublisher   *MockDeadLetterPublisher
	)

	tests := []struct {
		name          string
		value         []byte
		setupMocks    func()
		expectedError string
	}{
		{
			name:  "successful processing",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return([]*payment.Payment{}, nil).Once()
				mockPaymentService.On("RegisterPayment", mock.Anything, matchesCommand).Return(&payment.Payment{ID: uuid.New()}, nil).Once()
			},
		},
		{
			name:  "redelivered command is skipped",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return([]*payment.Payment{{
					ID:        uuid.New(),
					Reference: command.CommandID.String(),
					PaidAt:    paidAt,
					Amount:    decimal.RequireFromString("150.00"),
				}}, nil).Once()
			},
		},
		{
			name:  "transient error is retried",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return([]*payment.Payment{}, nil).Once()
				mockPaymentService.On("RegisterPayment", mock.Anything, mock.Anything).
					Return(nil, loan.ErrConcurrentModification{LoanID: command.LoanID}).Once()
			},
			expectedError: "processing payment command",
		},
		{
			name:  "listing error is retried",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return(nil, errors.New("db error")).Once()
			},
			expectedError: "checking payment command",
		},
		{
			name:  "closed loan goes to DLQ",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return([]*payment.Payment{}, nil).Once()
				mockPaymentService.On("RegisterPayment", mock.Anything, mock.Anything).Return(nil, loan.ErrLoanNotActive).Once()
				mockDLQPublisher.On("PublishToDLQ", mock.Anything, "test-key", validJSON, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:  "unknown loan goes to DLQ",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return(nil, loan.ErrLoanNotFound{LoanID: command.LoanID}).Once()
				mockPaymentService.On("RegisterPayment", mock.Anything, mock.Anything).Return(nil, loan.ErrLoanNotFound{LoanID: command.LoanID}).Once()
				mockDLQPublisher.On("PublishToDLQ", mock.Anything, "test-key", validJSON, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:  "validation error goes to DLQ",
			value: validJSON,
			setupMocks: func() {
				mockPaymentService.On("ListPayments", mock.Anything, command.LoanID).Return([]*payment.Payment{}, nil).Once()
				mockPaymentService.On("RegisterPayment", mock.Anything, mock.Anything).
					Return(nil, shared.NewValidationError("paid_at", "is before the loan start date")).Once()
				mockDLQPublisher.On("PublishToDLQ", mock.Anything, "test-key", validJSON, mock.MatchedBy(func(reason string) bool {
					return reason == "Payment command rejected: validation failed on paid_at: is before the loan start date"
				})).Return(nil).Once()
			},
		},
		{
			name:  "invalid command goes to DLQ",
			value: invalidJSON,
			setupMocks: func() {
				mockDLQPublisher.On("PublishToDLQ", mock.Anything, "test-key", invalidJSON, mock.Anything).Return(nil).Once()
			},
		},
		{
			name:  "unmarshal error with successful DLQ publish",
			value: []byte("invalid json"),
			setupMocks: func() {
				mockDLQPublisher.On("PublishToDLQ", mock.Anything, "test-key", []byte("invalid json"), mock.Anything).Return(nil).Once()
			},
		},
		{
			name:  "unmarshal error with DLQ publish failure",
			value: []byte("invalid json"),
			setupMocks: func() {
				mockDLQPublisher.On("PublishToDLQ", mock.Anything, "test-key", []byte("invalid json"), mock.Anything).Return(errors.New("dlq error")).Once()
			},
			expectedError: "Failed to unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPaymentService = &MockPaymentService{}
			mockDLQPublisher = &MockDeadLetterPublisher{}
			handler := NewPaymentCommandHandler(logger, mockPaymentService, mockDLQPublisher)

			tt.setupMocks()

			err := handler.HandleMessage(context.Background(), []byte("test-key"), tt.value)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}

			mockPaymentService.AssertExpectations(t)
			mockDLQPublisher.AssertExpectations(t)
		})
	}
}

func TestHandleMessage_WithoutDLQ(t *testing.T) {
	handler := NewPaymentCommandHandler(slog.Default(), &MockPaymentService{}, nil)

	err := handler.HandleMessage(context.Background(), []byte("k"), []byte("{"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to unmarshal payment command")
}
