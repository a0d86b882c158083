package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayCounters(t *testing.T) {
	m := New()
	m.Received("desk")
	m.Received("desk")
	m.Forwarded("desk")
	m.Unmapped("desk")
	m.SetRunning(2)
	m.SetPoolSize(3)
	m.ObserveDispatch("desk", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.received.WithLabelValues("desk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forwarded.WithLabelValues("desk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unmapped.WithLabelValues("desk")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolSize))

	m.Forget("desk")
	assert.Equal(t, 0, testutil.CollectAndCount(m.received))
}

func TestNilRelayIsSafe(t *testing.T) {
	var m *Relay
	m.Received("x")
	m.Dropped("x")
	m.SendError("x")
	m.SetRunning(1)
	m.Forget("x")
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Dropped("desk")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `oscrelay_messages_dropped_total{config="desk"} 1`))
}
