package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbias/crashwatch/internal/pipeline"
)

type staticStatus pipeline.Status

func (s staticStatus) Status() pipeline.Status { return pipeline.Status(s) }

func newTestServer(st pipeline.Status) (*Server, *pipeline.Metrics) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := pipeline.NewMetrics(reg)
	return NewServer(staticStatus(st), reg, 0), m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		state pipeline.State
		want  int
	}{
		{state: pipeline.StateInitializing, want: http.StatusServiceUnavailable},
		{state: pipeline.StateStreaming, want: http.StatusOK},
		{state: pipeline.StateAnalyzing, want: http.StatusOK},
		{state: pipeline.StateTerminated, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			s, _ := newTestServer(pipeline.Status{State: tt.state})
			rec := get(t, s.Handler(), "/healthz")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), string(tt.state))
		})
	}
}

func TestPipelineStatus(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{
		State:        pipeline.StateStreaming,
		ResumeToken:  "4711",
		EventsSeen:   10,
		WarningsSeen: 4,
		Suppressed:   2,
		Alerts:       2,
		Restarts:     1,
	})

	rec := get(t, s.Handler(), "/health/pipeline")
	require.Equal(t, http.StatusOK, rec.Code)

	var got pipeline.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pipeline.StateStreaming, got.State)
	assert.EqualValues(t, "4711", got.ResumeToken)
	assert.EqualValues(t, 2, got.Suppressed)
	assert.Equal(t, 1, got.Restarts)
}

func TestMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(pipeline.Status{State: pipeline.StateStreaming})
	m.SuppressedTotal.Add(3)
	m.AlertsTotal.WithLabelValues("bare").Inc()
	m.RestartsTotal.Inc()

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "crashwatch_suppressed_total 3")
	assert.Contains(t, body, `crashwatch_alerts_total{path="bare"} 1`)
	assert.Contains(t, body, "crashwatch_restarts_total 1")
}

func TestNewServerDefaultPort(t *testing.T) {
	s, _ := newTestServer(pipeline.Status{})
	assert.Equal(t, ":8080", s.addr)
}
