// Package id provides ULID-based identifiers for sandbox runs, preview renders
// and stream connections.
//
// IDs are lexicographically sortable by creation time and carry a short type
// prefix so they are easy to pick out of logs:
//
//	run_01J9Z3Q4W8T6M2V1R0K5N7B3XC
//	rnd_01J9Z3Q4X0A8C9D2E4F6G8H0JK
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunID identifies one isolated execution.
type RunID string

// RenderID identifies one preview render.
type RenderID string

// ConnID identifies a stream connection.
type ConnID string

const (
	RunPrefix    = "run"
	RenderPrefix = "rnd"
	ConnPrefix   = "conn"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRunID generates a run ID from the given generator, or the default one if nil
func NewRunID(g *Generator) RunID {
	if g == nil {
		g = Default()
	}
	return RunID(g.GenerateWithPrefix(RunPrefix))
}

// NewRenderID generates a render ID
func NewRenderID(g *Generator) RenderID {
	if g == nil {
		g = Default()
	}
	return RenderID(g.GenerateWithPrefix(RenderPrefix))
}

// NewConnID generates a connection ID
func NewConnID() ConnID {
	return ConnID(Default().GenerateWithPrefix(ConnPrefix))
}

func (id RunID) String() string    { return string(id) }
func (id RenderID) String() string { return string(id) }
func (id ConnID) String() string   { return string(id) }
