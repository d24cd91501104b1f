package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AgentRequest("ok")
		m.ToolCall("get_weather", "fallback")
		m.ObserveGateway("agent", "ok", time.Second)
		m.FarmCard()
		m.HTTPRequest(http.MethodGet, "/health", 200)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()
	m.AgentRequest("ok")
	m.AgentRequest("ok")
	m.AgentRequest("fallback")
	m.ToolCall("get_market_price", "local")
	m.FarmCard()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.agentRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.agentRequests.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("get_market_price", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.farmCards))
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.ToolCall("get_weather", "live")
	m.ObserveGateway("agent", "ok", 1500*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `agriagent_tool_calls_total{source="live",tool="get_weather"} 1`)
	assert.Contains(t, string(body), `agriagent_gateway_duration_seconds_count{outcome="ok",purpose="agent"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
