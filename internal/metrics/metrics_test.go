package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OrderCreated()
	m.PaymentCallback("completed")
	m.PaymentCallback("completed")
	m.ClaimBatch("ok", 3)
	m.ClaimBatch("over_claim", 0)
	m.ObserveRequest("/orders", 201, 12*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PaymentCallbacks.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Claims.WithLabelValues("over_claim")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ClaimedUnits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders", "201")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.OrderCreated()
	m.ClaimBatch("ok", 1)
	m.PaymentCallback("x")
	m.ObserveRequest("/", 200, time.Second)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.OrderCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "redemption_orders_created_total 1")
}
