// ABOUTME: Tests for the pipeline metrics registry
// ABOUTME: Scrapes Handler with an httptest recorder and checks the exposition

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObservePipeline(t *testing.T) {
	m := New(nil)

	m.Started("deploy")
	assert.Contains(t, scrape(t, m), `agent_console_pipelines_in_flight{action="deploy"} 1`)

	m.ObservePipeline("deploy", ResultOK, 2*time.Second)
	m.Started("deploy")
	m.ObservePipeline("deploy", ResultFailed, time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `agent_console_pipelines_in_flight{action="deploy"} 0`)
	assert.Contains(t, body, `agent_console_pipeline_runs_total{action="deploy",result="ok"} 1`)
	assert.Contains(t, body, `agent_console_pipeline_runs_total{action="deploy",result="failed"} 1`)
	assert.Contains(t, body, `agent_console_pipeline_duration_seconds_count{action="deploy"} 2`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Started("deploy")
	m.ObservePipeline("deploy", ResultOK, time.Second)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(func() float64 { return 3 })
	m.Started("register")
	m.ObservePipeline("register", ResultInvalid, 10*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `agent_console_pipeline_runs_total{action="register",result="invalid"} 1`)
	assert.Contains(t, body, "agent_console_sessions 3")
	assert.Contains(t, body, "go_goroutines")
}
