package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.PaymentOperation("register", "ok")
	m.PaymentOperation("register", "ok")
	m.PaymentOperation("delete", "error")
	m.AccrualEntries("fee_accrual", 3)
	m.AccrualEntries("interest_accrual", 0)
	m.OutboxMessage("PROCESSED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.payments.WithLabelValues("register", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payments.WithLabelValues("delete", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.accruals.WithLabelValues("fee_accrual")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.accruals.WithLabelValues("interest_accrual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbox.WithLabelValues("PROCESSED")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.PaymentOperation("register", "ok")
		m.Replayed(3)
		m.AccrualEntries("fee_accrual", 1)
		m.OutboxMessage("PROCESSED")
		m.BatchDuration("accrual", time.Second)
		m.HTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.HTTPRequest(http.MethodPost, "/api/v1/loans/:id/payments", http.StatusCreated, 20*time.Millisecond)
	m.Replayed(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `microloan_http_requests_total{method="POST",route="/api/v1/loans/:id/payments",status="201"} 1`)
	assert.Contains(t, body, "microloan_replayed_payments_count 1")
	assert.Contains(t, body, "go_goroutines")
}
