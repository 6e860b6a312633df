package sandbox

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Language is the declared language of an artifact
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageHTML       Language = "html"
	LanguageCSS        Language = "css"
)

// IsScript reports whether the language is one of the script dialects
func (l Language) IsScript() bool {
	return l == LanguageJavaScript || l == LanguageTypeScript
}

// IsDocument reports whether the language only makes sense rendered
func (l Language) IsDocument() bool {
	return l == LanguageHTML || l == LanguageCSS
}

// Dialect is the executable variant of a script
type Dialect int

const (
	DialectBasic Dialect = iota
	DialectTyped
)

// DialectFor maps a language to the dialect the executor should expect.
// Anything that is not typescript runs as plain script.
func DialectFor(l Language) Dialect {
	if l == LanguageTypeScript {
		return DialectTyped
	}
	return DialectBasic
}

func (d Dialect) String() string {
	if d == DialectTyped {
		return "typed"
	}
	return "basic"
}

// Artifact is one executable unit handed over by the editor
type Artifact struct {
	Path     string   `json:"path" binding:"required"`
	Language Language `json:"language"`
	Content  string   `json:"content,omitempty"`
}

// Strategy selects how an artifact is executed
type Strategy string

const (
	StrategyIsolated Strategy = "isolated"
	StrategyPreview  Strategy = "preview"
)

// Channel is a console channel
type Channel string

const (
	ChannelLog   Channel = "log"
	ChannelError Channel = "error"
	ChannelWarn  Channel = "warn"
	ChannelInfo  Channel = "info"
)

// ParseChannel validates a channel name
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(s); c {
	case ChannelLog, ChannelError, ChannelWarn, ChannelInfo:
		return c, true
	}
	return "", false
}

// ConsoleMessage is one captured console call
type ConsoleMessage struct {
	Channel Channel  `json:"channel"`
	Args    []string `json:"args"`
}

// Text joins the arguments the way a console prints them
func (m ConsoleMessage) Text() string {
	return strings.Join(m.Args, " ")
}

// String renders the message tagged with its channel, e.g. "[log] a"
func (m ConsoleMessage) String() string {
	return "[" + string(m.Channel) + "] " + m.Text()
}

// Result is the outcome of one execution.
// Success == false always comes with a non-empty Error.
type Result struct {
	Success  bool          `json:"success"`
	Output   []string      `json:"output"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
	Strategy Strategy      `json:"strategy"`
}

// MarshalJSON adds durationMs for the frontend
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	output := r.Output
	if output == nil {
		output = []string{}
	}
	r.Output = output
	return sonic.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain(r), r.Duration.Milliseconds()})
}

// Failure builds a failed result. An empty message is replaced so the
// success/error invariant always holds.
func Failure(strategy Strategy, message string, output []string, d time.Duration) Result {
	if message == "" {
		message = "execution failed"
	}
	if output == nil {
		output = []string{}
	}
	return Result{
		Success:  false,
		Output:   output,
		Error:    message,
		Duration: d,
		Strategy: strategy,
	}
}

// Config defines executor limits
type Config struct {
	Timeout          time.Duration // Wall-clock deadline per run
	MaxCallStackSize int           // goja call stack limit
}

// DefaultTimeout is the deadline applied when none is configured
const DefaultTimeout = 3000 * time.Millisecond

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		MaxCallStackSize: 1024,
	}
}
