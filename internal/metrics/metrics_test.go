package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveMessage(t *testing.T) {
	m := New()

	m.ObserveMessage("text", "ok", 2*time.Second)
	m.ObserveMessage("audio", "error", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("audio", "error")))
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m := New()
	m.RateLimited.Inc()
	m.ApprovalsTotal.WithLabelValues("approved").Inc()

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, recorder.Code)
	body := recorder.Body.String()
	assert.Contains(t, body, "koro_rate_limited_total 1")
	assert.Contains(t, body, `koro_approvals_total{outcome="approved"} 1`)
}
