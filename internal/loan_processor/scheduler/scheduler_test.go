package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/microloan-ledger/internal/config"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/stretchr/testify/mock"
)

type MockBatchService struct {
	mock.Mock
}

func (m *MockBatchService) RunAccrual(ctx context.Context, asOf time.Time) (*service.BatchResult, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockBatchService) RunOverdueScan(ctx context.Context) (*service.BatchResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockBatchService) Shutdown() {
	m.Called()
}

func TestScheduler_RunOnce(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	now := time.Date(2025, 3, 15, 23, 30, 0, 0, time.UTC)
	today := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		overdue  bool
		skipScan bool
		setup    func(m *MockBatchService)
	}{
		{
			name:    "accrual only",
			overdue: false,
			setup: func(m *MockBatchService) {
				m.On("RunAccrual", mock.Anything, today).Return(&service.BatchResult{Processed: 3, Affected: 3}, nil).Once()
			},
		},
		{
			name:    "accrual then overdue scan",
			overdue: true,
			setup: func(m *MockBatchService) {
				m.On("RunAccrual", mock.Anything, today).Return(&service.BatchResult{Processed: 3}, nil).Once()
				m.On("RunOverdueScan", mock.Anything).Return(&service.BatchResult{Processed: 3, Affected: 1}, nil).Once()
			},
		},
		{
			name:     "failed accrual skips the scan",
			overdue:  true,
			skipScan: true,
			setup: func(m *MockBatchService) {
				m.On("RunAccrual", mock.Anything, today).Return(nil, errors.New("pool closed")).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := new(MockBatchService)
			tt.setup(batch)
			s := NewScheduler(&config.AccrualConfig{Interval: time.Hour, Overdue: tt.overdue}, batch, logger)
			s.clock = func() time.Time { return now }

			s.runOnce(context.Background())

			batch.AssertExpectations(t)
			if tt.skipScan {
				batch.AssertNotCalled(t, "RunOverdueScan", mock.Anything)
			}
		})
	}
}

func TestScheduler_Start(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	batch := new(MockBatchService)
	ran := make(chan struct{}, 1)
	batch.On("RunAccrual", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case ran <- struct{}{}:
			default:
			}
		}).
		Return(&service.BatchResult{}, nil)

	s := NewScheduler(&config.AccrualConfig{Interval: time.Hour}, batch, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("first accrual run did not start")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
