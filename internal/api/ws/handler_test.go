package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/router"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

type testServer struct {
	url     string
	hub     *Hub
	metrics *monitoring.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil)
	opts := preview.DefaultOptions()
	opts.LiveReload = false
	opts.OnConsoleMessage = hub.Console
	opts.OnRender = hub.Reload

	r, err := router.New(router.WithPreviewOptions(opts))
	require.NoError(t, err)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	engine := gin.New()
	engine.GET("/stream", NewHandler(r, hub, metrics, nil, nil).HandleConnection)

	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		srv.Close()
		_ = r.Close()
	})
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream", hub: hub, metrics: metrics}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := read(t, conn)
	require.Equal(t, TypeConnected, hello.Type)
	assert.True(t, strings.HasPrefix(hello.Message, "conn_"))
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	data, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func read(t *testing.T, conn *websocket.Conn) Outgoing {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out Outgoing
	require.NoError(t, sonic.Unmarshal(raw, &out))
	return out
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t)

	write(t, conn, Incoming{Type: TypePing})
	assert.Equal(t, TypePong, read(t, conn).Type)
}

func TestExecute(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t)

	write(t, conn, Incoming{
		Type:     TypeExecute,
		ID:       "req-1",
		Artifact: &sandbox.Artifact{Path: "main.ts", Language: sandbox.LanguageTypeScript, Content: "const n: number = 2;\nconsole.log(n * 21);"},
	})

	out := read(t, conn)
	require.Equal(t, TypeResult, out.Type)
	assert.Equal(t, "req-1", out.ID)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Success)
	assert.Equal(t, []string{"[log] 42"}, out.Result.Output)
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t)

	write(t, conn, Incoming{Type: TypeExecute, ID: "a"})
	out := read(t, conn)
	assert.Equal(t, TypeError, out.Type)
	assert.Equal(t, "a", out.ID)

	write(t, conn, Incoming{Type: "launch", ID: "b"})
	out = read(t, conn)
	assert.Equal(t, TypeError, out.Type)
	assert.Equal(t, "unknown message type", out.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "malformed message", read(t, conn).Message)
}

func TestRenderBroadcasts(t *testing.T) {
	s := newTestServer(t)
	editor := s.dial(t)
	viewer := s.dial(t)

	write(t, editor, Incoming{
		Type:   TypeRender,
		Markup: `<p id="x"></p>`,
		Script: `document.getElementById("x").textContent = "hi"; console.warn("rendered");`,
	})

	for _, conn := range []*websocket.Conn{editor, viewer} {
		console := read(t, conn)
		require.Equal(t, TypeConsole, console.Type)
		assert.Equal(t, sandbox.ChannelWarn, console.Channel)
		assert.Equal(t, "[warn] rendered", console.Line)

		reload := read(t, conn)
		assert.Equal(t, TypeReload, reload.Type)
		assert.True(t, strings.HasPrefix(reload.RenderID, "rnd_"))
	}
}

func TestConsoleRelay(t *testing.T) {
	s := newTestServer(t)
	frontend := s.dial(t)
	dashboard := s.dial(t)

	write(t, frontend, Incoming{Type: TypeConsole, Source: "elsewhere", Channel: "log", Args: []string{"x"}})
	assert.Equal(t, TypeError, read(t, frontend).Type)

	write(t, frontend, Incoming{Type: TypeConsole, Source: sandbox.PreviewSource, Channel: "shout", Args: []string{"x"}})
	assert.Equal(t, "unknown console channel", read(t, frontend).Message)

	write(t, frontend, Incoming{Type: TypeConsole, Source: sandbox.PreviewSource, Channel: "info", Args: []string{"a", "b"}})
	out := read(t, dashboard)
	assert.Equal(t, TypeConsole, out.Type)
	assert.Equal(t, "[info] a b", out.Line)

	// the sender doesn't get its own line back
	write(t, frontend, Incoming{Type: TypePing})
	assert.Equal(t, TypePong, read(t, frontend).Type)
}

func TestConnectionTracking(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t)
	assert.Equal(t, 1, s.hub.Len())
	assert.Equal(t, int64(1), s.metrics.Snapshot().ActiveConnections)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return s.metrics.Snapshot().ActiveConnections == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, NewHub(nil), nil, nil, []string{"http://localhost:3000"})

	req := httptest.NewRequest("GET", "/stream", nil)
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, h.upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.upgrader.CheckOrigin(req))
}
