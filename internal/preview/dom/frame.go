package dom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

var (
	// ErrClosed is returned by calls on a frame that was closed
	ErrClosed = errors.New("frame closed")
	// ErrLoaded is returned when Load is called a second time
	ErrLoaded = errors.New("frame already loaded")

	errScriptTimeout = errors.New("script exceeded its time slice")
)

const (
	jobQueueSize = 256
	maxTimers    = 1024
	minInterval  = 4 * time.Millisecond
)

// Frame is a headless sandboxed document. Scripts run in a private goja VM
// on the frame's own goroutine; the only way out is window.parent.postMessage,
// which reaches the host as a decoded sandbox.Message. Navigation, form
// submission and network globals are inert.
type Frame struct {
	logger        *zap.Logger
	scriptTimeout time.Duration
	onMessage     func(sandbox.Message)

	vm     *goja.Runtime
	jobs   chan func()
	quit   chan struct{}
	exited chan struct{}
	closed atomic.Bool
	loaded atomic.Bool

	// owned by the loop goroutine
	root      *html.Node
	doc       *goquery.Document
	nodes     map[*html.Node]*goja.Object
	objects   map[*goja.Object]*html.Node
	listeners map[*goja.Object]map[string][]goja.Value
	window    *goja.Object
	document  *goja.Object
	timers    map[int64]*time.Timer
	nextTimer int64
	rejected  map[*goja.Promise]struct{}
	stringify goja.Callable

	closeOnce sync.Once
}

// Option configures a Frame
type Option func(*Frame)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(f *Frame) { f.logger = logger }
}

// WithScriptTimeout bounds every script block, timer callback and event
// handler individually
func WithScriptTimeout(d time.Duration) Option {
	return func(f *Frame) { f.scriptTimeout = d }
}

// New creates an empty frame. onMessage receives messages the document posts
// to its parent, in order, on the frame goroutine.
func New(onMessage func(sandbox.Message), opts ...Option) *Frame {
	f := &Frame{
		logger:        zap.NewNop(),
		scriptTimeout: sandbox.DefaultTimeout,
		onMessage:     onMessage,
		vm:            goja.New(),
		jobs:          make(chan func(), jobQueueSize),
		quit:          make(chan struct{}),
		exited:        make(chan struct{}),
		nodes:         make(map[*html.Node]*goja.Object),
		objects:       make(map[*goja.Object]*html.Node),
		listeners:     make(map[*goja.Object]map[string][]goja.Value),
		timers:        make(map[int64]*time.Timer),
		rejected:      make(map[*goja.Promise]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.onMessage == nil {
		f.onMessage = func(sandbox.Message) {}
	}

	go f.loop()
	return f
}

// Load parses the document, runs its inline scripts in document order and
// fires DOMContentLoaded and load. It returns once the load event handlers
// have run; timers keep running until Close.
func (f *Frame) Load(ctx context.Context, document string) error {
	if !f.loaded.CompareAndSwap(false, true) {
		return ErrLoaded
	}
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	var bootErr error
	if err := f.do(ctx, func() { bootErr = f.boot(root) }); err != nil {
		return err
	}
	return bootErr
}

// HTML renders the live document
func (f *Frame) HTML(ctx context.Context) (string, error) {
	var (
		out     string
		err     error
		missing bool
	)
	doErr := f.do(ctx, func() {
		if f.doc == nil {
			missing = true
			return
		}
		out, err = f.doc.Html()
	})
	if doErr != nil {
		return "", doErr
	}
	if missing {
		return "", errors.New("frame has no document")
	}
	return out, err
}

// Text returns the text content of the first element matching selector
func (f *Frame) Text(ctx context.Context, selector string) (string, bool, error) {
	var (
		text  string
		found bool
	)
	err := f.do(ctx, func() {
		if f.doc == nil {
			return
		}
		sel := f.doc.Find(selector).First()
		if sel.Length() == 0 {
			return
		}
		text, found = sel.Text(), true
	})
	return text, found, err
}

// Close interrupts any running script, stops timers and releases the VM
func (f *Frame) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.quit)
		f.vm.Interrupt(ErrClosed)
	})
	<-f.exited
	return nil
}

func (f *Frame) loop() {
	defer close(f.exited)
	defer f.stopTimers()

	for {
		select {
		case <-f.quit:
			return
		case job := <-f.jobs:
			f.runJob(job)
		}
	}
}

func (f *Frame) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Frame job panicked", zap.Any("panic", r))
		}
	}()
	job()
}

// post queues a job for the loop. It returns false once the frame closed.
func (f *Frame) post(job func()) bool {
	if f.closed.Load() {
		return false
	}
	select {
	case f.jobs <- job:
		return true
	case <-f.quit:
		return false
	}
}

// do runs fn on the loop and waits for it
func (f *Frame) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !f.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		f.vm.Interrupt(ctx.Err())
		return ctx.Err()
	case <-f.quit:
		return ErrClosed
	}
}

func (f *Frame) stopTimers() {
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
}

// boot installs the globals and runs the document
func (f *Frame) boot(root *html.Node) error {
	f.root = root
	f.doc = goquery.NewDocumentFromNode(root)

	if err := f.installGlobals(); err != nil {
		return err
	}

	for _, script := range f.scripts() {
		src := nodeText(script)
		f.guarded(func() error {
			_, err := f.vm.RunString(src)
			return err
		})
		if f.closed.Load() {
			return ErrClosed
		}
	}

	f.setReadyState("interactive")
	f.dispatch(f.document, "DOMContentLoaded", nil)
	f.dispatch(f.window, "DOMContentLoaded", nil)
	f.setReadyState("complete")
	f.dispatch(f.window, "load", nil)
	return nil
}

// scripts returns the inline classic scripts in document order. External
// scripts would need the network and are skipped.
func (f *Frame) scripts() []*html.Node {
	var out []*html.Node
	f.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		switch strings.ToLower(strings.TrimSpace(s.AttrOr("type", ""))) {
		case "", "text/javascript", "application/javascript", "module":
			out = append(out, s.Nodes[0])
		}
	})
	return out
}

// guarded runs one task under the script time slice and routes any uncaught
// exception to the document's error handlers
func (f *Frame) guarded(run func() error) {
	watchdog := time.AfterFunc(f.scriptTimeout, func() { f.vm.Interrupt(errScriptTimeout) })
	err := run()
	watchdog.Stop()
	if !f.closed.Load() {
		f.vm.ClearInterrupt()
	}

	if err != nil {
		f.reportError(err)
	}
	f.flushRejections()
}

// deliver hands a posted message to the host if it carries the preview tag
func (f *Frame) deliver(data goja.Value) {
	raw, err := f.stringify(goja.Undefined(), data)
	if err != nil || goja.IsUndefined(raw) {
		f.logger.Debug("Dropped unserializable frame message", zap.Error(err))
		return
	}
	msg, err := sandbox.DecodeMessage([]byte(raw.String()))
	if err != nil {
		f.logger.Debug("Dropped malformed frame message", zap.Error(err))
		return
	}
	if msg.Source != sandbox.PreviewSource {
		return
	}
	f.onMessage(msg)
}
