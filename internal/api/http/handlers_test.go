package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/utils"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts := preview.DefaultOptions()
	opts.LiveReload = false
	r, err := router.New(router.WithPreviewOptions(opts))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	engine := gin.New()
	NewHandlers(r, monitoring.NewMetrics(prometheus.NewRegistry()), nil, 0).Register(engine)
	return engine
}

func do(engine *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		raw, _ := sonic.Marshal(body)
		buf.Write(raw)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	engine := setupTestRouter(t)

	w := do(engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "stats")
}

func TestClassify(t *testing.T) {
	engine := setupTestRouter(t)

	tests := []struct {
		path, language, want string
	}{
		{"src/main.js", "javascript", "isolated"},
		{"web/app.js", "javascript", "preview"},
		{"index.html", "html", "preview"},
		{"script.rb", "ruby", "isolated"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(engine, http.MethodPost, "/classify", gin.H{
				"artifact": gin.H{"path": tt.path, "language": tt.language},
			})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["strategy"])
		})
	}
}

func TestExecute(t *testing.T) {
	engine := setupTestRouter(t)

	t.Run("success", func(t *testing.T) {
		w := do(engine, http.MethodPost, "/execute", gin.H{
			"artifact": gin.H{"path": "main.js", "language": "javascript", "content": "console.log(1 + 1)"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, []any{"[log] 2"}, body["output"])
		assert.Equal(t, "isolated", body["strategy"])
		assert.Contains(t, body, "durationMs")
	})

	t.Run("snippet failure is data", func(t *testing.T) {
		w := do(engine, http.MethodPost, "/execute", gin.H{
			"artifact": gin.H{"path": "main.js", "language": "javascript", "content": "throw new Error('nope')"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["error"], "nope")
	})

	t.Run("preview", func(t *testing.T) {
		w := do(engine, http.MethodPost, "/execute", gin.H{
			"artifact": gin.H{"path": "index.html", "language": "html", "content": `<p id="x"></p>`},
			"siblings": []gin.H{{"path": "app.js", "language": "javascript", "content": "console.log('loaded')"}},
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "preview", body["strategy"])
		assert.Equal(t, []any{"[log] loaded"}, body["output"])
	})

	t.Run("missing path", func(t *testing.T) {
		w := do(engine, http.MethodPost, "/execute", gin.H{
			"artifact": gin.H{"language": "javascript", "content": "1"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRequestBodyLimits(t *testing.T) {
	engine := setupTestRouter(t)

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{
			name:   "execute over the body limit",
			target: "/execute",
			body:   `{"artifact":{"path":"a.js","language":"javascript","content":"` + strings.Repeat("x", utils.MaxJSONSize) + `"}}`,
			want:   http.StatusRequestEntityTooLarge,
		},
		{
			name:   "render over the body limit",
			target: "/preview/render",
			body:   `{"markup":"` + strings.Repeat("x", utils.MaxJSONSize+1) + `"}`,
			want:   http.StatusRequestEntityTooLarge,
		},
		{
			name:   "truncated json",
			target: "/classify",
			body:   `{"artifact":{"path":"a.js"`,
			want:   http.StatusBadRequest,
		},
		{
			name:   "empty body",
			target: "/classify",
			body:   "",
			want:   http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestCancel(t *testing.T) {
	engine := setupTestRouter(t)

	// idempotent with nothing running
	for i := 0; i < 2; i++ {
		w := do(engine, http.MethodPost, "/cancel", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestPreviewDocument(t *testing.T) {
	engine := setupTestRouter(t)

	w := do(engine, http.MethodGet, "/preview/document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DocumentCSP, w.Header().Get("Content-Security-Policy"))
	assert.Contains(t, w.Body.String(), "<body>")

	w = do(engine, http.MethodPost, "/preview/render", gin.H{
		"markup":    `<div id="x">hi</div>`,
		"style":     "body { color: red; }",
		"immediate": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(engine, http.MethodGet, "/preview/document", nil)
	assert.Contains(t, w.Body.String(), `<div id="x">hi</div>`)
	assert.Contains(t, w.Body.String(), "body { color: red; }")
}

func TestPreviewRenderScheduled(t *testing.T) {
	engine := setupTestRouter(t)

	// live reload is off in tests, so the edit renders before the reply
	w := do(engine, http.MethodPost, "/preview/render", gin.H{"markup": "<p>later</p>"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestPreviewPage(t *testing.T) {
	engine := setupTestRouter(t)

	w := do(engine, http.MethodGet, "/preview?title=%3Cscript%3Ealert(1)%3C/script%3EDemo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := w.Body.String()
	assert.Contains(t, page, `<iframe sandbox="allow-scripts" src="/preview/document"`)
	assert.Contains(t, page, "<title>Demo</title>")
	assert.NotContains(t, page, "alert(1)")
}

func TestPreviewPageTitleEscapedOnce(t *testing.T) {
	engine := setupTestRouter(t)

	w := do(engine, http.MethodGet, "/preview?title=A+%26+B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := w.Body.String()
	assert.Contains(t, page, "<title>A &amp; B</title>")
	assert.NotContains(t, page, "&amp;amp;")
}
