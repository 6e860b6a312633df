package http

import (
	"context"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/utils"
)

// DocumentCSP makes the preview document an opaque-origin sandbox even when
// it is opened outside the host page's iframe
const DocumentCSP = "sandbox allow-scripts"

// Handlers contains all HTTP handlers
type Handlers struct {
	router  *router.Router
	metrics *monitoring.Metrics
	logger  *zap.Logger
	policy  *bluemonday.Policy
	bodies  *utils.JSONSizeValidator
	// requestTimeout bounds an execute request beyond the run deadline
	requestTimeout time.Duration
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(r *router.Router, metrics *monitoring.Metrics, logger *zap.Logger, requestTimeout time.Duration) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Handlers{
		router:         r,
		metrics:        metrics,
		logger:         logger,
		policy:         bluemonday.StrictPolicy(),
		bodies:         utils.DefaultJSONValidator(),
		requestTimeout: requestTimeout,
	}
}

// Register mounts the handlers on an engine
func (h *Handlers) Register(e gin.IRouter) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)

	e.POST("/classify", h.Classify)
	e.POST("/execute", h.Execute)
	e.POST("/cancel", h.Cancel)

	e.GET("/preview", h.PreviewPage)
	e.GET("/preview/document", h.PreviewDocument)
	e.POST("/preview/render", h.PreviewRender)
}

// ExecuteRequest is the body of /classify and /execute
type ExecuteRequest struct {
	Artifact sandbox.Artifact   `json:"artifact" binding:"required"`
	Siblings []sandbox.Artifact `json:"siblings,omitempty"`
}

// RenderRequest is the body of /preview/render
type RenderRequest struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
	Script string `json:"script"`
	// Immediate skips the live reload debounce
	Immediate bool `json:"immediate"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Code Execution Sandbox (Go)",
		"version": "0.1.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	if h.metrics != nil {
		body["stats"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// Classify reports the strategy an artifact would run with
func (h *Handlers) Classify(c *gin.Context) {
	var req ExecuteRequest
	if !h.bind(c, &req) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":     req.Artifact.Path,
		"strategy": h.router.Classify(req.Artifact),
	})
}

// Execute runs an artifact and returns its Result. A failing snippet is a
// 200 with success false; 409 means the run lost to a newer one or a cancel.
func (h *Handlers) Execute(c *gin.Context) {
	var req ExecuteRequest
	if !h.bind(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	res, err := h.router.Execute(ctx, req.Artifact, req.Siblings...)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, router.ErrSuperseded), errors.Is(err, router.ErrCancelled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		c.Status(http.StatusNoContent)
	default:
		h.logger.Error("Execute failed",
			zap.String("trace_id", middleware.TraceID(ctx)),
			zap.String("path", req.Artifact.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Cancel discards the current run
func (h *Handlers) Cancel(c *gin.Context) {
	h.router.Cancel()
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// PreviewDocument serves the last rendered document. Browsers must load it
// through the sandboxed iframe of PreviewPage or directly, never inline.
func (h *Handlers) PreviewDocument(c *gin.Context) {
	doc := h.router.Renderer().Document()
	if doc == "" {
		var err error
		if doc, err = preview.Assemble("", "", ""); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.Header("Content-Security-Policy", DocumentCSP)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(doc))
}

// PreviewRender feeds an edit to the live preview
func (h *Handlers) PreviewRender(c *gin.Context) {
	var req RenderRequest
	if !h.bind(c, &req) {
		return
	}
	for name, v := range map[string]string{"markup": req.Markup, "style": req.Style, "script": req.Script} {
		if len(v) > utils.MaxArtifactSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s exceeds %d bytes", name, utils.MaxArtifactSize)})
			return
		}
	}

	renderer := h.router.Renderer()
	if !req.Immediate {
		renderer.Render(req.Markup, req.Style, req.Script)
		c.JSON(http.StatusAccepted, gin.H{"scheduled": true})
		return
	}
	if err := renderer.RenderNow(c.Request.Context(), req.Markup, req.Style, req.Script); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rendered": true})
}

var hostPage = template.Must(template.New("host").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>html,body,iframe{margin:0;width:100%;height:100%;border:0}</style>
</head>
<body>
<iframe sandbox="allow-scripts" src="{{.Src}}" title="{{.Title}}"></iframe>
</body>
</html>
`))

// PreviewPage serves the host page that frames the preview document
func (h *Handlers) PreviewPage(c *gin.Context) {
	// bluemonday strips tags but entity-encodes; the template escapes once
	title := html.UnescapeString(h.policy.Sanitize(c.DefaultQuery("title", "Preview")))
	if title == "" {
		title = "Preview"
	}
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := hostPage.Execute(c.Writer, struct{ Title, Src string }{title, "/preview/document"}); err != nil {
		h.logger.Warn("Failed to write preview page", zap.Error(err))
	}
}

// bind reads at most MaxJSONSize bytes of body, checks it is JSON, then
// decodes and validates it. Oversized bodies get 413, anything else 400.
func (h *Handlers) bind(c *gin.Context, v any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, utils.MaxJSONSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", utils.MaxJSONSize)})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := h.bodies.ValidateJSON(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := binding.JSON.BindBody(raw, v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if req, ok := v.(*ExecuteRequest); ok {
		if err := utils.ValidateArtifacts(req.Artifact, req.Siblings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return false
		}
	}
	return true
}
