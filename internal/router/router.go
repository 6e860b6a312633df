package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/preview"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox/strip"
)

var (
	// ErrSuperseded is returned by an Execute call whose run was replaced
	// by a newer one before it finished
	ErrSuperseded = errors.New("execution superseded by a newer run")
	// ErrCancelled is returned by an Execute call whose run was cancelled
	ErrCancelled = errors.New("execution cancelled")
)

// Observer receives one notification per Execute call
type Observer interface {
	ObserveExecute(strategy sandbox.Strategy, outcome string, d time.Duration)
}

// Outcomes reported to the Observer
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSuperseded = "superseded"
	OutcomeCancelled  = "cancelled"
	OutcomeAborted    = "aborted"
)

// Option configures a Router
type Option func(*Router)

// WithExecutor sets the isolated executor
func WithExecutor(e *sandbox.Executor) Option {
	return func(r *Router) { r.executor = e }
}

// WithPreviewOptions configures the renderer the router owns
func WithPreviewOptions(opts preview.Options) Option {
	return func(r *Router) { r.previewOpts = opts }
}

// WithMarkers replaces the project folder markers
func WithMarkers(markers ...string) Option {
	return func(r *Router) { r.markers = markers }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithObserver receives execution outcomes, typically metrics
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// run is one Execute call. Only the current run may publish its result.
type run struct {
	strategy  sandbox.Strategy
	handle    *sandbox.Handle
	cancelled bool
}

// Router classifies artifacts and dispatches them to the isolated executor
// or the preview renderer. It owns at most one run at a time: a new Execute
// terminates the previous one, and Cancel discards the current one.
type Router struct {
	executor    *sandbox.Executor
	renderer    *preview.Renderer
	previewOpts preview.Options
	markers     []string
	patterns    []string
	logger      *zap.Logger
	observer    Observer

	mu      sync.Mutex
	current *run
}

// New creates a router. Each instance owns its own renderer and shares
// nothing with other routers.
func New(opts ...Option) (*Router, error) {
	r := &Router{
		markers:     DefaultMarkers,
		previewOpts: preview.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.executor == nil {
		r.executor = sandbox.NewExecutor(sandbox.WithLogger(r.logger))
	}

	patterns, err := compileMarkers(r.markers)
	if err != nil {
		return nil, err
	}
	r.patterns = patterns

	if r.previewOpts.Logger == nil {
		r.previewOpts.Logger = r.logger
	}
	r.renderer = preview.NewRenderer(r.previewOpts)
	return r, nil
}

// Classify picks the strategy for an artifact
func (r *Router) Classify(a sandbox.Artifact) sandbox.Strategy {
	return classify(r.patterns, a)
}

// Renderer exposes the owned preview renderer for live editing
func (r *Router) Renderer() *preview.Renderer {
	return r.renderer
}

// Execute runs an artifact with the strategy Classify picks. Snippet
// failures come back as a Result with Success false; the error is set only
// when this call lost its run to a newer Execute, to Cancel, or to ctx.
func (r *Router) Execute(ctx context.Context, a sandbox.Artifact, siblings ...sandbox.Artifact) (sandbox.Result, error) {
	start := time.Now()
	cur := &run{strategy: r.Classify(a)}

	r.mu.Lock()
	var previous *sandbox.Handle
	if r.current != nil {
		previous = r.current.handle
	}
	r.current = cur
	r.mu.Unlock()
	if previous != nil {
		previous.Terminate()
	}

	r.logger.Debug("Executing artifact",
		zap.String("path", a.Path),
		zap.String("language", string(a.Language)),
		zap.String("strategy", string(cur.strategy)),
		zap.Int("siblings", len(siblings)),
	)

	var (
		res sandbox.Result
		err error
	)
	if cur.strategy == sandbox.StrategyPreview {
		res, err = r.executePreview(ctx, a, siblings)
	} else {
		res, err = r.executeIsolated(ctx, cur, a)
	}

	res, err = r.settle(ctx, cur, res, err)
	r.report(a, cur.strategy, res, err, time.Since(start))
	return res, err
}

// Cancel discards the current run. It is a no-op when nothing is running.
func (r *Router) Cancel() {
	r.mu.Lock()
	cur := r.current
	r.current = nil
	var h *sandbox.Handle
	if cur != nil {
		cur.cancelled = true
		h = cur.handle
	}
	r.mu.Unlock()

	if cur == nil {
		return
	}
	if h != nil {
		h.Terminate()
	}
	r.logger.Debug("Cancelled run", zap.String("strategy", string(cur.strategy)))
}

// Close cancels the current run and releases the renderer
func (r *Router) Close() error {
	r.Cancel()
	return r.renderer.Close()
}

func (r *Router) executeIsolated(ctx context.Context, cur *run, a sandbox.Artifact) (sandbox.Result, error) {
	h := r.executor.Start(ctx, a.Content, sandbox.DialectFor(a.Language))

	r.mu.Lock()
	live := r.current == cur
	if live {
		cur.handle = h
	}
	r.mu.Unlock()
	if !live {
		h.Terminate()
		return sandbox.Result{}, sandbox.ErrTerminated
	}

	return h.Wait(ctx)
}

func (r *Router) executePreview(ctx context.Context, a sandbox.Artifact, siblings []sandbox.Artifact) (sandbox.Result, error) {
	start := time.Now()
	markup, style, script := gather(a, siblings)

	output, err := r.renderer.Capture(ctx, markup, style, script)

	switch {
	case err == nil:
		return sandbox.Result{Success: true, Output: output, Duration: time.Since(start), Strategy: sandbox.StrategyPreview}, nil
	case ctx.Err() != nil, errors.Is(err, preview.ErrClosed):
		return sandbox.Result{}, err
	default:
		return sandbox.Failure(sandbox.StrategyPreview, fmt.Sprintf("Preview failed: %v", err), output, time.Since(start)), nil
	}
}

// settle applies the ownership rules: a run that is no longer current never
// publishes, whatever it produced
func (r *Router) settle(ctx context.Context, cur *run, res sandbox.Result, err error) (sandbox.Result, error) {
	r.mu.Lock()
	stale := r.current != cur
	cancelled := cur.cancelled
	if !stale {
		r.current = nil
	}
	r.mu.Unlock()

	switch {
	case cancelled:
		return sandbox.Result{}, ErrCancelled
	case stale:
		return sandbox.Result{}, ErrSuperseded
	case err != nil && ctx.Err() != nil:
		if cur.handle != nil {
			cur.handle.Terminate()
		}
		return sandbox.Result{}, ctx.Err()
	case err != nil:
		return sandbox.Result{}, err
	}
	return res, nil
}

func (r *Router) report(a sandbox.Artifact, strategy sandbox.Strategy, res sandbox.Result, err error, d time.Duration) {
	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, ErrSuperseded):
		outcome = OutcomeSuperseded
	case errors.Is(err, ErrCancelled):
		outcome = OutcomeCancelled
	case err != nil:
		outcome = OutcomeAborted
	case !res.Success:
		outcome = OutcomeFailure
	}

	fields := []zap.Field{
		zap.String("path", a.Path),
		zap.String("strategy", string(strategy)),
		zap.String("outcome", outcome),
		zap.Duration("duration", d),
	}
	if outcome == OutcomeFailure {
		r.logger.Info("Execution failed", append(fields, zap.String("error", firstLine(res.Error)))...)
	} else {
		r.logger.Debug("Execution finished", fields...)
	}
	if r.observer != nil {
		r.observer.ObserveExecute(strategy, outcome, d)
	}
}

// gather picks the first markup, style and script among the artifact and its
// siblings, in that order. Typed scripts are stripped on the way.
func gather(a sandbox.Artifact, siblings []sandbox.Artifact) (markup, style, script string) {
	var haveMarkup, haveStyle, haveScript bool
	for _, c := range append([]sandbox.Artifact{a}, siblings...) {
		switch {
		case c.Language == sandbox.LanguageHTML && !haveMarkup:
			markup, haveMarkup = c.Content, true
		case c.Language == sandbox.LanguageCSS && !haveStyle:
			style, haveStyle = c.Content, true
		case c.Language.IsScript() && !haveScript:
			script, haveScript = c.Content, true
			if c.Language == sandbox.LanguageTypeScript {
				script = strip.Strip(script)
			}
		}
	}
	return markup, style, script
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
