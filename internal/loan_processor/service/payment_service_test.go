package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/loan_processor/service"
	"github.com/microloan-ledger/internal/loan_processor/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentService_RegisterPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the payment and stages an event", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())

		p, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-31", "150"))
		require.NoError(t, err)
		assertDec(t, "100", p.AppliedInterest)
		assertDec(t, "50", p.AppliedPrincipal)

		stored := h.store.Loan(l.ID)
		assertDec(t, "950", stored.BalanceTotal)
		assert.Equal(t, l.Version+1, stored.Version)

		assert.Equal(t, []shared.EventType{shared.EventLoanDisbursed, shared.EventPaymentRegistered}, h.store.EventTypes())
		event, err := h.store.Messages()[1].Event()
		require.NoError(t, err)
		assert.Equal(t, l.ID, event.LoanID)
		assertDec(t, "950", event.BalanceTotal)

		var body struct {
			Payment struct {
				ID uuid.UUID `json:"id"`
			} `json:"payment"`
			Replayed int `json:"replayed_payments"`
		}
		require.NoError(t, json.Unmarshal(event.Data, &body))
		assert.Equal(t, p.ID, body.Payment.ID)
		assert.Zero(t, body.Replayed)
	})

	t.Run("closing payment stages loan.closed", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())

		p, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-31", "1150"))
		require.NoError(t, err)
		assertDec(t, "50", p.ExcessAmount)

		assert.Equal(t, loan.StatusClosed, h.store.Loan(l.ID).Status)
		assert.Equal(t, []shared.EventType{
			shared.EventLoanDisbursed,
			shared.EventPaymentRegistered,
			shared.EventLoanClosed,
		}, h.store.EventTypes())
	})

	t.Run("retroactive payment replays later history", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())
		h.register(t, l.ID, "2025-01-31", "100")
		h.register(t, l.ID, "2025-02-15", "500")

		_, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-15", "200"))
		require.NoError(t, err)

		stored := h.store.Loan(l.ID)
		assertDec(t, "350", stored.BalanceTotal)
		require.NoError(t, h.rewinder.Reconcile(ctx, nil, stored))

		payments, err := h.payments.ListPayments(ctx, l.ID)
		require.NoError(t, err)
		require.Len(t, payments, 3)
		assert.Equal(t, payment.ReplayMarker, payments[1].Notes)
	})

	t.Run("invalid requests", func(t *testing.T) {
		tests := []struct {
			name   string
			mutate func(r *service.RegisterPaymentRequest)
			field  string
		}{
			{"missing loan", func(r *service.RegisterPaymentRequest) { r.LoanID = uuid.Nil }, "loan_id"},
			{"zero amount", func(r *service.RegisterPaymentRequest) { r.Amount = dec("0") }, "amount"},
			{"negative amount", func(r *service.RegisterPaymentRequest) { r.Amount = dec("-5") }, "amount"},
			{"missing method", func(r *service.RegisterPaymentRequest) { r.Method = "" }, "method"},
			{"before start date", func(r *service.RegisterPaymentRequest) { r.PaidAt = day("2024-12-01") }, "paid_at"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := newHarness()
				l := h.disburse(t, loanRequest())
				request := paymentRequest(l.ID, "2025-01-31", "100")
				tt.mutate(&request)

				_, err := h.payments.RegisterPayment(ctx, request)
				var validationErr *shared.ValidationError
				require.ErrorAs(t, err, &validationErr)
				assert.Equal(t, tt.field, validationErr.Field)
				assert.Len(t, h.store.Entries(l.ID), 1)
			})
		}
	})

	t.Run("unknown loan", func(t *testing.T) {
		h := newHarness()

		_, err := h.payments.RegisterPayment(ctx, paymentRequest(uuid.New(), "2025-01-31", "100"))
		assert.ErrorIs(t, err, loan.ErrLoanNotFound{})
	})

	t.Run("replay limit rolls everything back", func(t *testing.T) {
		h := newHarness(withMaxIterations(1))
		l := h.disburse(t, loanRequest())
		h.register(t, l.ID, "2025-01-31", "100")
		h.register(t, l.ID, "2025-02-15", "100")
		before := h.store.Loan(l.ID)
		entries := h.store.Entries(l.ID)

		_, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-15", "100"))
		assert.ErrorIs(t, err, service.ErrReplayLimitExceeded)

		assert.Equal(t, before, h.store.Loan(l.ID))
		assert.Equal(t, entries, h.store.Entries(l.ID))
		assert.Len(t, h.store.Messages(), 3)
	})

	t.Run("ledger divergence rolls back", func(t *testing.T) {
		var drift *driftingLedger
		h := newHarness(withReconcileLedger(func(r ledger.Repository) ledger.Repository {
			drift = &driftingLedger{Repository: r}
			return drift
		}))
		l := h.disburse(t, loanRequest())
		drift.on = true

		_, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-31", "100"))
		assert.ErrorIs(t, err, service.ErrLedgerDivergence)

		assert.Len(t, h.store.Entries(l.ID), 1)
		payments, err := h.payments.ListPayments(ctx, l.ID)
		require.NoError(t, err)
		assert.Empty(t, payments)
	})

	t.Run("concurrent modification", func(t *testing.T) {
		h := newHarness(withLoanRepo(func(store *testutil.Store, r loan.Repository) loan.Repository {
			return &racingLoanRepo{Repository: r, store: store}
		}))
		l := h.disburse(t, loanRequest())

		_, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-31", "100"))
		var conflict loan.ErrConcurrentModification
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, l.ID, conflict.LoanID)

		assert.Equal(t, l.Version, h.store.Loan(l.ID).Version)
		assert.Len(t, h.store.Entries(l.ID), 1)
	})
}

func TestPaymentService_DeletePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("restores the balance and stages an event", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())
		h.register(t, l.ID, "2025-01-31", "100")
		h.register(t, l.ID, "2025-02-15", "500")

		payments, err := h.payments.ListPayments(ctx, l.ID)
		require.NoError(t, err)
		require.NoError(t, h.payments.DeletePayment(ctx, payments[0].ID))

		stored := h.store.Loan(l.ID)
		// 44 days of interest from the start date is 146.67.
		assertDec(t, "646.67", stored.PrincipalOutstanding)
		assertDec(t, "646.67", stored.BalanceTotal)
		require.NoError(t, h.rewinder.Reconcile(ctx, nil, stored))

		remaining, err := h.payments.ListPayments(ctx, l.ID)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assertDec(t, "146.67", remaining[0].AppliedInterest)
		assertDec(t, "353.33", remaining[0].AppliedPrincipal)

		types := h.store.EventTypes()
		assert.Equal(t, shared.EventPaymentDeleted, types[len(types)-1])
	})

	t.Run("deleting the closing payment reopens the loan", func(t *testing.T) {
		h := newHarness()
		l := h.disburse(t, loanRequest())
		p, err := h.payments.RegisterPayment(ctx, paymentRequest(l.ID, "2025-01-31", "1100"))
		require.NoError(t, err)
		require.Equal(t, loan.StatusClosed, h.store.Loan(l.ID).Status)

		require.NoError(t, h.payments.DeletePayment(ctx, p.ID))

		stored := h.store.Loan(l.ID)
		assert.Equal(t, loan.StatusActive, stored.Status)
		assertDec(t, "1000", stored.BalanceTotal)
	})

	t.Run("unknown payment", func(t *testing.T) {
		h := newHarness()

		err := h.payments.DeletePayment(ctx, uuid.New())
		assert.ErrorIs(t, err, payment.ErrPaymentNotFound{})
	})
}

func TestPaymentService_ListPayments(t *testing.T) {
	h := newHarness()

	_, err := h.payments.ListPayments(context.Background(), uuid.New())
	assert.ErrorIs(t, err, loan.ErrLoanNotFound{})
}
