package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.Logging.Level = "error"
	cfg.Preview.LiveReload = false

	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/preview", "", http.StatusOK},
		{http.MethodGet, "/preview/document", "", http.StatusOK},
		{http.MethodPost, "/classify", `{"artifact":{"path":"a.js","language":"javascript"}}`, http.StatusOK},
		{http.MethodPost, "/execute", `{"artifact":{"path":"a.js","language":"javascript","content":"1"}}`, http.StatusOK},
		{http.MethodPost, "/cancel", "", http.StatusOK},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/execute",
		strings.NewReader(`{"artifact":{"path":"a.js","language":"javascript","content":"console.log(1)"}}`))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `sandbox_executions_total{outcome="success",strategy="isolated"} 1`)
	assert.Contains(t, body, `sandbox_isolated_runs_total{state="completed"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestCompression(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "sandbox_uptime_seconds")
}

func TestNewServerRejectsBadLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "chatty"
	_, err := NewServer(cfg)
	assert.Error(t, err)
}
