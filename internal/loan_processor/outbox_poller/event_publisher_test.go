package outbox_poller

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/audit"
	"github.com/microloan-ledger/internal/domain/outbox"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOutboxRepo for testing
type MockOutboxRepo struct {
	mock.Mock
}

func (m *MockOutboxRepo) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepo) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepo) GetByEventID(ctx context.Context, eventID uuid.UUID) (*outbox.Message, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepo) WithTx(tx pgx.Tx) outbox.Repository {
	args := m.Called(tx)
	return args.Get(0).(outbox.Repository)
}

// MockKafkaEvents for testing
type MockKafkaEvents struct {
	mock.Mock
}

func (m *MockKafkaEvents) PublishEvent(ctx context.Context, key string, eventType string, payload []byte) error {
	args := m.Called(ctx, key, eventType, payload)
	return args.Error(0)
}

func (m *MockKafkaEvents) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockAuditRepo for testing
type MockAuditRepo struct {
	mock.Mock
}

func (m *MockAuditRepo) Record(ctx context.Context, record *audit.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockAuditRepo) ListByLoan(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*audit.Record, error) {
	args := m.Called(ctx, loanID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Record), args.Error(1)
}

func (m *MockAuditRepo) CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).(int64), args.Error(1)
}

func newOutboxMessage(t *testing.T, id int64) (*outbox.Message, *shared.LoanEvent) {
	t.Helper()
	event, err := shared.NewLoanEvent(shared.EventPaymentRegistered, uuid.New(), uuid.New(), "active",
		decimal.RequireFromString("950"), map[string]string{"payment_id": uuid.NewString()})
	require.NoError(t, err)
	msg, err := outbox.NewMessage(event)
	require.NoError(t, err)
	msg.ID = id
	return msg, event
}

func TestEventPublisher_Publish(t *testing.T) {
	logger := slog.Default()
	message, event := newOutboxMessage(t, 1)
	loanKey := event.LoanID.String()

	broken := &outbox.Message{ID: 2, EventID: uuid.New(), Payload: []byte("not json"), CreatedAt: time.Now()}

	var (
		mockOutboxRepo *MockOutboxRepo
		mockEvents     *MockKafkaEvents
		mockAuditRepo  *MockAuditRepo
	)

	tests := []struct {
		name          string
		message       *outbox.Message
		setupMocks    func()
		expectedError string
	}{
		{
			name:    "publishes, records and marks processed",
			message: message,
			setupMocks: func() {
				mockEvents.On("PublishEvent", mock.Anything, loanKey, "payment.registered", []byte(message.Payload)).Return(nil).Once()
				mockAuditRepo.On("Record", mock.Anything, mock.MatchedBy(func(r *audit.Record) bool {
					return r.EventID == event.EventID && r.BalanceTotal == "950.00" && r.Type == shared.EventPaymentRegistered
				})).Return(nil).Once()
				mockOutboxRepo.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(nil).Once()
			},
		},
		{
			name:    "kafka error leaves message pending",
			message: message,
			setupMocks: func() {
				mockEvents.On("PublishEvent", mock.Anything, loanKey, "payment.registered", mock.Anything).Return(errors.New("broker down")).Once()
			},
			expectedError: "failed to publish event",
		},
		{
			name:    "audit error leaves message pending",
			message: message,
			setupMocks: func() {
				mockEvents.On("PublishEvent", mock.Anything, loanKey, "payment.registered", mock.Anything).Return(nil).Once()
				mockAuditRepo.On("Record", mock.Anything, mock.Anything).Return(errors.New("mongo down")).Once()
			},
			expectedError: "failed to record audit",
		},
		{
			name:    "status update error",
			message: message,
			setupMocks: func() {
				mockEvents.On("PublishEvent", mock.Anything, loanKey, "payment.registered", mock.Anything).Return(nil).Once()
				mockAuditRepo.On("Record", mock.Anything, mock.Anything).Return(nil).Once()
				mockOutboxRepo.On("UpdateStatus", mock.Anything, int64(1), shared.OutboxStatusProcessed).Return(errors.New("db error")).Once()
			},
			expectedError: "failed to mark outbox 1 as PROCESSED",
		},
		{
			name:    "undecodable payload is marked failed",
			message: broken,
			setupMocks: func() {
				mockOutboxRepo.On("UpdateStatus", mock.Anything, int64(2), shared.OutboxStatusFailedToPublish).Return(nil).Once()
			},
			expectedError: "unmarshal payload for outbox 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockOutboxRepo = &MockOutboxRepo{}
			mockEvents = &MockKafkaEvents{}
			mockAuditRepo = &MockAuditRepo{}
			publisher := NewEventPublisher(mockOutboxRepo, mockEvents, mockAuditRepo, logger)

			tt.setupMocks()

			err := publisher.Publish(context.Background(), tt.message)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				assert.NoError(t, err)
			}

			mockOutboxRepo.AssertExpectations(t)
			mockEvents.AssertExpectations(t)
			mockAuditRepo.AssertExpectations(t)
		})
	}
}

func TestEventPublisher_WithoutAudit(t *testing.T) {
	message, _ := newOutboxMessage(t, 7)
	mockOutboxRepo := &MockOutboxRepo{}
	mockEvents := &MockKafkaEvents{}
	mockEvents.On("PublishEvent", mock.Anything, mock.Anything, "payment.registered", mock.Anything).Return(nil).Once()
	mockOutboxRepo.On("UpdateStatus", mock.Anything, int64(7), shared.OutboxStatusProcessed).Return(nil).Once()

	publisher := NewEventPublisher(mockOutboxRepo, mockEvents, nil, slog.Default())
	require.NoError(t, publisher.Publish(context.Background(), message))

	mockOutboxRepo.AssertExpectations(t)
	mockEvents.AssertExpectations(t)
}
