package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

// StreamPath is the WebSocket endpoint. It bypasses compression so the
// upgrade can hijack the connection.
const StreamPath = "/stream"

// Server wraps the HTTP server and dependencies
type Server struct {
	engine   *gin.Engine
	handler  nethttp.Handler
	router   *router.Router
	hub      *ws.Hub
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry

	http *nethttp.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing sandbox server",
		zap.String("port", cfg.Server.Port),
		zap.Duration("timeout", cfg.Sandbox.Timeout),
		zap.Bool("live_reload", cfg.Preview.LiveReload),
	)

	// own registry so tests can build several servers in one process
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	executor := sandbox.NewExecutor(
		sandbox.WithConfig(sandbox.Config{
			Timeout:          cfg.Sandbox.Timeout,
			MaxCallStackSize: cfg.Sandbox.MaxCallStackSize,
		}),
		sandbox.WithLogger(logger.Component("sandbox")),
		sandbox.WithObserver(metrics),
	)

	hub := ws.NewHub(logger.Component("stream"))
	previewOpts := preview.Options{
		OnConsoleMessage: hub.Console,
		OnRender:         hub.Reload,
		LiveReload:       cfg.Preview.LiveReload,
		Debounce:         cfg.Preview.Debounce,
		Logger:           logger.Component("preview"),
		Observer:         metrics,
	}

	r, err := router.New(
		router.WithExecutor(executor),
		router.WithPreviewOptions(previewOpts),
		router.WithMarkers(cfg.Preview.Markers...),
		router.WithLogger(logger.Component("router")),
		router.WithObserver(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.Trace(logger.Component("http")))
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	// a request may outlive its run by the preview load and some slack
	handlers := http.NewHandlers(r, metrics, logger.Component("http"), cfg.Sandbox.Timeout*2+5*time.Second)
	handlers.Register(engine)

	wsHandler := ws.NewHandler(r, hub, metrics, logger.Component("stream"), cfg.Server.AllowedOrigins)
	engine.GET(StreamPath, wsHandler.HandleConnection)

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	mux := nethttp.NewServeMux()
	mux.Handle(StreamPath, engine)
	mux.Handle("/", gzhttp.GzipHandler(engine))

	logger.Info("Server initialized successfully")

	return &Server{
		engine:   engine,
		handler:  mux,
		router:   r,
		hub:      hub,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
	}, nil
}

// Handler returns the root handler, compression included
func (s *Server) Handler() nethttp.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until it stops. A server stopped by
// Shutdown returns nil.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	s.http = &nethttp.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Close releases the router and its preview
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.router.Close(); err != nil {
		s.logger.Error("Failed to close router", zap.Error(err))
		return fmt.Errorf("failed to close router: %w", err)
	}

	// stderr sync fails on some platforms; nothing to do about it
	_ = s.logger.Sync()
	return nil
}
