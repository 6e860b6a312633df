package ws

import (
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

// Client message types
const (
	TypeExecute = "execute"
	TypeRender  = "render"
	TypeCancel  = "cancel"
	TypeConsole = "console"
	TypePing    = "ping"
)

// Server message types
const (
	TypeResult    = "result"
	TypeReload    = "reload"
	TypeError     = "error"
	TypePong      = "pong"
	TypeConnected = "connected"
)

// Incoming is a frame from the desktop frontend. Fields are populated
// according to Type.
type Incoming struct {
	Type string `json:"type"`
	// ID correlates an execute with its result
	ID string `json:"id,omitempty"`

	Artifact *sandbox.Artifact `json:"artifact,omitempty"`
	Siblings []sandbox.Artifact `json:"siblings,omitempty"`

	Markup string `json:"markup,omitempty"`
	Style  string `json:"style,omitempty"`
	Script string `json:"script,omitempty"`

	// console relayed from a browser-hosted preview iframe
	Source  string   `json:"source,omitempty"`
	Channel string   `json:"channel,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Outgoing is a frame to the desktop frontend
type Outgoing struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Result    *sandbox.Result `json:"result,omitempty"`
	Channel   sandbox.Channel `json:"channel,omitempty"`
	Args      []string        `json:"args,omitempty"`
	Line      string          `json:"line,omitempty"`
	RenderID  string          `json:"renderId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
