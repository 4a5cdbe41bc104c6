package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/audit"
	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	processor "github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/stretchr/testify/mock"
)

type MockLoanService struct {
	mock.Mock
}

func (m *MockLoanService) DisburseLoan(ctx context.Context, request processor.DisburseLoanRequest) (*loan.Loan, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanService) GetLoan(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanService) ListLedger(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*ledger.Entry, int64, error) {
	args := m.Called(ctx, loanID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*ledger.Entry), args.Get(1).(int64), args.Error(2)
}

func (m *MockLoanService) AccrueInterest(ctx context.Context, loanID uuid.UUID, asOf time.Time) (*loan.Loan, error) {
	args := m.Called(ctx, loanID, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanService) PeekPendingInterest(ctx context.Context, loanID uuid.UUID, asOf time.Time) (*processor.InterestQuote, error) {
	args := m.Called(ctx, loanID, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.InterestQuote), args.Error(1)
}

func (m *MockLoanService) ComputeArrears(ctx context.Context, loanID uuid.UUID) (*finance.Arrears, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.Arrears), args.Error(1)
}

func (m *MockLoanService) FlagOverdue(ctx context.Context, loanID uuid.UUID) (bool, error) {
	args := m.Called(ctx, loanID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLoanService) CancelOrWriteOff(ctx context.Context, loanID uuid.UUID, reason string, at time.Time) (*loan.Loan, error) {
	args := m.Called(ctx, loanID, reason, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanService) Dashboard(ctx context.Context) (*processor.Dashboard, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Dashboard), args.Error(1)
}

func (m *MockLoanService) ProjectSchedule(params finance.ScheduleParams) (*finance.Schedule, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*finance.Schedule), args.Error(1)
}

func (m *MockLoanService) CalculateInstallment(params finance.InstallmentParams) (*processor.InstallmentQuote, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.InstallmentQuote), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) RegisterPayment(ctx context.Context, request processor.RegisterPaymentRequest) (*payment.Payment, error) {
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

type MockRefinanceService struct {
	mock.Mock
}

func (m *MockRefinanceService) RefinanceLoans(ctx context.Context, request processor.RefinanceRequest) (*processor.RefinanceResult, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.RefinanceResult), args.Error(1)
}

func (m *MockRefinanceService) ConsolidateLoans(ctx context.Context, request processor.RefinanceRequest) (*processor.RefinanceResult, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.RefinanceResult), args.Error(1)
}

type MockPaymentCommandService struct {
	mock.Mock
}

func (m *MockPaymentCommandService) SubmitPayment(ctx context.Context, command *shared.PaymentCommand) (uuid.UUID, error) {
	args := m.Called(ctx, command)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) ListByLoan(ctx context.Context, loanID uuid.UUID, page, perPage int) ([]*audit.Record, int64, error) {
	args := m.Called(ctx, loanID, page, perPage)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*audit.Record), args.Get(1).(int64), args.Error(2)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// newJSONRequest builds a request carrying body, marshalled when not a string.
func newJSONRequest(method, path string, body any) *http.Request {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func perform(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return serve(r, newJSONRequest(method, path, body))
}

// decodeData unmarshals the envelope and its data into out.
func decodeData(rr *httptest.ResponseRecorder, out any) (*Response, error) {
	var envelope struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		return nil, err
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return nil, err
		}
	}
	resp := envelope.Response
	return &resp, nil
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}
