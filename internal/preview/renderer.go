package preview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview/dom"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/id"
)

// DefaultDebounce is the quiet period live reload waits for
const DefaultDebounce = 500 * time.Millisecond

// ErrClosed is returned after Close
var ErrClosed = errors.New("renderer closed")

// Frame is the embedded document a render is loaded into
type Frame interface {
	Load(ctx context.Context, document string) error
	Close() error
}

// FrameFactory creates a frame whose posted messages go to onMessage
type FrameFactory func(onMessage func(sandbox.Message)) Frame

// Observer receives one notification per finished render
type Observer interface {
	ObserveRender(err error, d time.Duration)
	ObserveConsole(strategy sandbox.Strategy, channel sandbox.Channel)
}

// Options configures a Renderer
type Options struct {
	OnConsoleMessage func(sandbox.ConsoleMessage)
	// OnRender is called after every render attempt with the assembled
	// document, or the error that stopped it
	OnRender   func(id.RenderID, string, error)
	LiveReload bool
	Debounce   time.Duration
	Frames     FrameFactory
	Logger     *zap.Logger
	Observer   Observer
}

// DefaultOptions enables live reload with the default debounce
func DefaultOptions() Options {
	return Options{LiveReload: true, Debounce: DefaultDebounce}
}

type edit struct {
	markup, style, script string

	// sink additionally receives this render's messages
	sink func(sandbox.ConsoleMessage)
}

// Renderer owns at most one preview at a time. Each render replaces the
// whole document; messages from a superseded render are dropped.
type Renderer struct {
	opts   Options
	logger *zap.Logger
	ids    *id.Generator

	generation atomic.Uint64
	renderMu   sync.Mutex // serializes renders

	mu       sync.Mutex
	timer    *time.Timer
	pending  *edit
	frame    Frame
	document string
	closed   bool
}

// NewRenderer creates a renderer. A zero Debounce means DefaultDebounce.
func NewRenderer(opts Options) *Renderer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Frames == nil {
		logger := opts.Logger
		opts.Frames = func(onMessage func(sandbox.Message)) Frame {
			return dom.New(onMessage, dom.WithLogger(logger))
		}
	}
	return &Renderer{
		opts:   opts,
		logger: opts.Logger,
		ids:    id.Default(),
	}
}

// Render is the edit path. With live reload on, edits are coalesced and the
// document is rebuilt once no edit arrived for the debounce interval;
// otherwise it renders before returning.
func (r *Renderer) Render(markup, style, script string) {
	e := &edit{markup: markup, style: style, script: script}

	if !r.opts.LiveReload {
		if err := r.render(context.Background(), e); err != nil && !errors.Is(err, ErrClosed) {
			r.logger.Debug("Render failed", zap.Error(err))
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = e
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.opts.Debounce, r.fire)
}

// RenderNow renders immediately, dropping any pending debounced edit
func (r *Renderer) RenderNow(ctx context.Context, markup, style, script string) error {
	r.mu.Lock()
	r.cancelPendingLocked()
	r.mu.Unlock()
	return r.render(ctx, &edit{markup: markup, style: style, script: script})
}

// Capture renders immediately like RenderNow and returns the console lines
// the document produced while it loaded
func (r *Renderer) Capture(ctx context.Context, markup, style, script string) ([]string, error) {
	var (
		mu    sync.Mutex
		lines = []string{}
		open  = true
	)
	sink := func(m sandbox.ConsoleMessage) {
		mu.Lock()
		defer mu.Unlock()
		if open {
			lines = append(lines, m.String())
		}
	}

	r.mu.Lock()
	r.cancelPendingLocked()
	r.mu.Unlock()
	err := r.render(ctx, &edit{markup: markup, style: style, script: script, sink: sink})

	mu.Lock()
	defer mu.Unlock()
	open = false
	return lines, err
}

// Flush renders a pending debounced edit now. It is a no-op when nothing is
// pending.
func (r *Renderer) Flush(ctx context.Context) error {
	r.mu.Lock()
	e := r.pending
	r.cancelPendingLocked()
	r.mu.Unlock()
	if e == nil {
		return nil
	}
	return r.render(ctx, e)
}

// Document returns the last successfully loaded document
func (r *Renderer) Document() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.document
}

// Close cancels pending edits and releases the current frame
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancelPendingLocked()
	frame := r.frame
	r.frame = nil
	r.mu.Unlock()

	// drop anything the last frame still posts
	r.generation.Add(1)
	if frame != nil {
		return frame.Close()
	}
	return nil
}

func (r *Renderer) cancelPendingLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = nil
}

// fire runs on the timer goroutine, where nothing upstream could recover
func (r *Renderer) fire() {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Debounced render panicked", zap.Any("panic", p))
		}
	}()

	r.mu.Lock()
	e := r.pending
	r.pending = nil
	r.timer = nil
	r.mu.Unlock()
	if e == nil {
		return
	}
	if err := r.render(context.Background(), e); err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Debug("Debounced render failed", zap.Error(err))
	}
}

func (r *Renderer) render(ctx context.Context, e *edit) error {
	r.renderMu.Lock()
	defer r.renderMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	renderID := id.NewRenderID(r.ids)
	gen := r.generation.Add(1)
	start := time.Now()

	doc, err := Assemble(e.markup, e.style, e.script)
	if err != nil {
		r.finish(renderID, "", err, start)
		return err
	}

	frame := r.opts.Frames(func(msg sandbox.Message) { r.relay(gen, e.sink, msg) })
	if err := frame.Load(ctx, doc); err != nil {
		_ = frame.Close()
		r.finish(renderID, "", err, start)
		return err
	}

	r.mu.Lock()
	if r.closed || gen != r.generation.Load() {
		r.mu.Unlock()
		_ = frame.Close()
		return ErrClosed
	}
	previous := r.frame
	r.frame = frame
	r.document = doc
	r.mu.Unlock()

	// the old document goes away only once the new one finished loading
	if previous != nil {
		if err := previous.Close(); err != nil {
			r.logger.Warn("Failed to release previous frame", zap.Error(err))
		}
	}

	r.finish(renderID, doc, nil, start)
	return nil
}

func (r *Renderer) finish(renderID id.RenderID, doc string, err error, start time.Time) {
	d := time.Since(start)
	if err != nil {
		r.logger.Warn("Render failed", zap.String("render_id", renderID.String()), zap.Error(err))
	} else {
		r.logger.Debug("Rendered preview",
			zap.String("render_id", renderID.String()),
			zap.Int("document_bytes", len(doc)),
			zap.Duration("duration", d),
		)
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveRender(err, d)
	}
	if r.opts.OnRender != nil {
		r.opts.OnRender(renderID, doc, err)
	}
}

// relay forwards a frame message if its render is still current
func (r *Renderer) relay(gen uint64, sink func(sandbox.ConsoleMessage), msg sandbox.Message) {
	if gen != r.generation.Load() {
		return
	}
	var cm sandbox.ConsoleMessage
	switch msg.Type {
	case sandbox.MessageConsole:
		var ok bool
		if cm, ok = msg.Console(); !ok {
			return
		}
	case sandbox.MessageError:
		cm = sandbox.ConsoleMessage{Channel: sandbox.ChannelError, Args: []string{msg.ErrorText()}}
	default:
		return
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveConsole(sandbox.StrategyPreview, cm.Channel)
	}
	if sink != nil {
		sink(cm)
	}
	if r.opts.OnConsoleMessage != nil {
		r.opts.OnConsoleMessage(cm)
	}
}
