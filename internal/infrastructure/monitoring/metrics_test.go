package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

var (
	_ sandbox.Observer = (*Metrics)(nil)
	_ preview.Observer = (*Metrics)(nil)
	_ router.Observer  = (*Metrics)(nil)
)

func TestNewMetricsIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestObservers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveExecute(sandbox.StrategyIsolated, router.OutcomeSuccess, 10*time.Millisecond)
	m.ObserveExecute(sandbox.StrategyIsolated, router.OutcomeFailure, 10*time.Millisecond)
	m.ObserveExecute(sandbox.StrategyPreview, router.OutcomeSuccess, 10*time.Millisecond)
	m.ObserveRun(sandbox.StrategyIsolated, sandbox.StateTimedOut, time.Second)
	m.ObserveRender(nil, time.Millisecond)
	m.ObserveRender(errors.New("bad"), time.Millisecond)
	m.ObserveConsole(sandbox.StrategyPreview, sandbox.ChannelWarn)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("isolated", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("isolated", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renders.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Console.WithLabelValues("preview", "warn")))

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Executions[router.OutcomeSuccess])
	assert.Equal(t, int64(2), s.Renders)
	assert.Equal(t, int64(1), s.RenderFailures)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveExecute(sandbox.StrategyIsolated, router.OutcomeSuccess, 0)

	s := m.Snapshot()
	s.Executions[router.OutcomeSuccess] = 99
	assert.Equal(t, int64(1), m.Snapshot().Executions[router.OutcomeSuccess])
}

func TestWSConnections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("in", "execute")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, int64(1), m.Snapshot().ActiveConnections)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("in", "execute")))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	engine := gin.New()
	engine.Use(Middleware(m))
	engine.GET("/items/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, target := range []string{"/items/1", "/items/2", "/missing"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/items/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(1), s.TotalErrors)
}
