package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/id"
)

// Hub fans preview events out to every open stream. The renderer is shared
// by the server, so its console and reload events concern all clients.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[id.ConnID]*client
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, clients: make(map[id.ConnID]*client)}
}

// Console broadcasts a preview console message. It matches
// preview.Options.OnConsoleMessage.
func (h *Hub) Console(m sandbox.ConsoleMessage) {
	h.Broadcast(Outgoing{
		Type:    TypeConsole,
		Channel: m.Channel,
		Args:    m.Args,
		Line:    m.String(),
	})
}

// Reload tells clients a new preview document is ready. It matches
// preview.Options.OnRender; failed renders are reported as errors.
func (h *Hub) Reload(renderID id.RenderID, _ string, err error) {
	if err != nil {
		h.Broadcast(Outgoing{Type: TypeError, RenderID: renderID.String(), Message: err.Error()})
		return
	}
	h.Broadcast(Outgoing{Type: TypeReload, RenderID: renderID.String()})
}

// Broadcast queues msg on every client. Slow clients drop messages rather
// than stall the renderer.
func (h *Hub) Broadcast(msg Outgoing) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, c := range h.clients {
		if !c.trySend(msg) {
			h.logger.Debug("Dropped stream message", zap.String("conn_id", connID.String()), zap.String("type", msg.Type))
		}
	}
}

// broadcastExcept is Broadcast minus the originating client
func (h *Hub) broadcastExcept(from id.ConnID, msg Outgoing) {
	msg.Timestamp = time.Now().Unix()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, c := range h.clients {
		if connID != from {
			c.trySend(msg)
		}
	}
}

// Len returns the number of open streams
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}
