package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/config"
)

func TestMetrics_ObserveTaskAndGate(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveTask("code", "general", 2*time.Second, true, "")
	m.ObserveTask("research", "research", time.Second, false, "no_fetch_record")
	m.ObserveGate("data_gate", false)
	m.ObserveLLMCall("anthropic", "claude", 500*time.Millisecond, 1200)
	m.ObserveToolCall("file_read", true, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_tasks_completed_total")
}

func TestNilMetricsHandlerReturns503(t *testing.T) {
	var m *Metrics
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusServer_Healthz(t *testing.T) {
	metrics := NewMetrics("test2")
	srv := NewStatusServer("127.0.0.1:0", nil, metrics)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Shutdown(context.Background()) }()

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestManager_NoStatusAddrNoMetrics(t *testing.T) {
	cfg := config.ObservabilityConfig{ServiceName: "test-svc"}
	m, err := NewManager(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, m.Metrics())
	require.NoError(t, m.Shutdown(context.Background()))
}
