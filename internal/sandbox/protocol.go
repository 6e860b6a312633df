package sandbox

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Message types posted from sandboxed code to the host
const (
	MessageConsole = "console"
	MessageDone    = "done"
	MessageError   = "error"
)

// PreviewSource tags messages posted by the preview instrumentation so the
// host can tell them apart from arbitrary postMessage traffic.
const PreviewSource = "sandbox-preview"

// Message is the structured unit crossing the sandbox boundary. It is always
// serialized, so nothing but plain data ever reaches the host.
type Message struct {
	Source  string   `json:"source,omitempty"`
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Args    []string `json:"args,omitempty"`
	Message string   `json:"message,omitempty"`
	Stack   string   `json:"stack,omitempty"`
}

// DecodeMessage parses a serialized message and validates its shape
func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode sandbox message: %w", err)
	}
	switch msg.Type {
	case MessageConsole:
		if _, ok := ParseChannel(msg.Channel); !ok {
			return Message{}, fmt.Errorf("unknown console channel %q", msg.Channel)
		}
	case MessageDone, MessageError:
	default:
		return Message{}, fmt.Errorf("unknown sandbox message type %q", msg.Type)
	}
	return msg, nil
}

// Console converts a console message; ok is false for other types
func (m Message) Console() (ConsoleMessage, bool) {
	if m.Type != MessageConsole {
		return ConsoleMessage{}, false
	}
	ch, ok := ParseChannel(m.Channel)
	if !ok {
		return ConsoleMessage{}, false
	}
	args := m.Args
	if args == nil {
		args = []string{}
	}
	return ConsoleMessage{Channel: ch, Args: args}, true
}

// ErrorText joins the error message with its stack, if any
func (m Message) ErrorText() string {
	text := m.Message
	if text == "" {
		text = "Unknown error"
	}
	if m.Stack != "" {
		text += "\n" + m.Stack
	}
	return text
}
