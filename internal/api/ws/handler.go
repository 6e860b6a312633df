package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Handler manages WebSocket connections
type Handler struct {
	router   *router.Router
	hub      *Hub
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	frames   *utils.JSONSizeValidator
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. Browsers may only connect
// from allowedOrigins; an empty list allows any origin.
func NewHandler(r *router.Router, hub *Hub, metrics *monitoring.Metrics, logger *zap.Logger, allowedOrigins []string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		router:  r,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
		frames:  utils.DefaultJSONValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(req *http.Request) bool {
				origin := req.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

type client struct {
	id   id.ConnID
	conn *websocket.Conn
	send chan Outgoing
	done chan struct{}
	once sync.Once
}

func (c *client) trySend(msg Outgoing) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   id.NewConnID(),
		conn: conn,
		send: make(chan Outgoing, sendBuffer),
		done: make(chan struct{}),
	}
	logger := h.logger.With(zap.String("conn_id", cl.id.String()))

	// runs started here die with the connection
	ctx, cancel := context.WithCancel(c.Request.Context())

	h.hub.add(cl)
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	logger.Debug("Stream connected")

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writePump(cl, logger)
	}()

	defer func() {
		cancel()
		h.hub.remove(cl)
		cl.close()
		writer.Wait()
		_ = conn.Close()
		if h.metrics != nil {
			h.metrics.DecWSConnections()
		}
		logger.Debug("Stream disconnected")
	}()

	cl.trySend(h.stamp(Outgoing{Type: TypeConnected, Message: cl.id.String()}))
	h.readPump(ctx, cl, logger)
}

func (h *Handler) readPump(ctx context.Context, cl *client, logger *zap.Logger) {
	conn := cl.conn
	conn.SetReadLimit(utils.MaxJSONSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg Incoming
		if err := h.frames.ValidateJSON(raw); err != nil {
			h.sendError(cl, "", "malformed message")
			continue
		}
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			h.sendError(cl, "", "malformed message")
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case TypeExecute:
			h.handleExecute(ctx, cl, msg)
		case TypeRender:
			h.handleRender(cl, msg)
		case TypeCancel:
			h.router.Cancel()
		case TypeConsole:
			h.handleConsole(cl, msg)
		case TypePing:
			cl.trySend(h.stamp(Outgoing{Type: TypePong}))
		default:
			h.sendError(cl, msg.ID, "unknown message type")
		}
	}
}

// handleExecute runs in the background so a later cancel frame is read
// while the run is in flight
func (h *Handler) handleExecute(ctx context.Context, cl *client, msg Incoming) {
	if msg.Artifact == nil {
		h.sendError(cl, msg.ID, "artifact is required")
		return
	}
	if err := utils.ValidateArtifacts(*msg.Artifact, msg.Siblings); err != nil {
		h.sendError(cl, msg.ID, err.Error())
		return
	}

	go func() {
		res, err := h.router.Execute(ctx, *msg.Artifact, msg.Siblings...)
		switch {
		case err == nil:
			cl.trySend(h.stamp(Outgoing{Type: TypeResult, ID: msg.ID, Result: &res}))
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			// connection is gone
		default:
			h.sendError(cl, msg.ID, err.Error())
		}
	}()
}

func (h *Handler) handleRender(cl *client, msg Incoming) {
	for _, v := range []string{msg.Markup, msg.Style, msg.Script} {
		if len(v) > utils.MaxArtifactSize {
			h.sendError(cl, msg.ID, "render payload too large")
			return
		}
	}
	// the hub reports the outcome through OnRender
	h.router.Renderer().Render(msg.Markup, msg.Style, msg.Script)
}

// handleConsole accepts console lines a browser-hosted preview posted to
// the frontend, and shares them with the other streams
func (h *Handler) handleConsole(cl *client, msg Incoming) {
	if msg.Source != sandbox.PreviewSource {
		h.sendError(cl, msg.ID, "console message from unknown source")
		return
	}
	channel, ok := sandbox.ParseChannel(msg.Channel)
	if !ok {
		h.sendError(cl, msg.ID, "unknown console channel")
		return
	}
	for _, a := range msg.Args {
		if err := utils.ValidateMessage(a); err != nil {
			h.sendError(cl, msg.ID, err.Error())
			return
		}
	}

	cm := sandbox.ConsoleMessage{Channel: channel, Args: msg.Args}
	if h.metrics != nil {
		h.metrics.ObserveConsole(sandbox.StrategyPreview, channel)
	}
	h.hub.broadcastExcept(cl.id, Outgoing{Type: TypeConsole, Channel: channel, Args: cm.Args, Line: cm.String()})
}

func (h *Handler) writePump(cl *client, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-cl.send:
			data, err := sonic.Marshal(msg)
			if err != nil {
				logger.Error("Failed to encode stream message", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("WebSocket write error", zap.Error(err))
				cl.close()
				return
			}
			if h.metrics != nil {
				h.metrics.RecordWSMessage("out", msg.Type)
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.close()
				return
			}
		}
	}
}

func (h *Handler) stamp(msg Outgoing) Outgoing {
	msg.Timestamp = time.Now().Unix()
	return msg
}

func (h *Handler) sendError(cl *client, correlation, message string) {
	cl.trySend(h.stamp(Outgoing{Type: TypeError, ID: correlation, Message: message}))
}
