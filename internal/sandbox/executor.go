package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox/strip"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/id"
)

// inboxSize bounds how far the VM may run ahead of the collector
const inboxSize = 64

// Executor runs snippets in throwaway goja VMs, one goroutine per run
type Executor struct {
	config     Config
	logger     *zap.Logger
	observer   Observer
	ids        *id.Generator
	generation atomic.Uint64
}

// Option configures an Executor
type Option func(*Executor)

// WithTimeout overrides the per-run deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.config.Timeout = d }
}

// WithMaxCallStackSize bounds recursion inside the VM
func WithMaxCallStackSize(n int) Option {
	return func(e *Executor) { e.config.MaxCallStackSize = n }
}

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(e *Executor) { e.config = cfg }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithObserver receives run outcomes, typically metrics
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithIDGenerator sets the run id source
func WithIDGenerator(g *id.Generator) Option {
	return func(e *Executor) { e.ids = g }
}

// NewExecutor creates an executor. Each instance is independent.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		config: DefaultConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.Timeout <= 0 {
		e.config.Timeout = DefaultTimeout
	}
	if e.config.MaxCallStackSize <= 0 {
		e.config.MaxCallStackSize = DefaultConfig().MaxCallStackSize
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Config returns the effective configuration
func (e *Executor) Config() Config {
	return e.config
}

// Run executes source and waits for its result. Failures of the snippet are
// reported in the Result; the error is only set when the run was terminated
// or ctx ended first.
func (e *Executor) Run(ctx context.Context, source string, dialect Dialect) (Result, error) {
	h := e.Start(ctx, source, dialect)
	res, err := h.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		h.Terminate()
		return Result{}, ctx.Err()
	}
	return res, err
}

// Start launches a run and returns immediately. Cancelling ctx terminates
// the run.
func (e *Executor) Start(ctx context.Context, source string, dialect Dialect) *Handle {
	h := newHandle(id.NewRunID(e.ids), e.generation.Add(1), e.config.Timeout, e.logger, e.observer)
	h.begin()

	if dialect == DialectTyped {
		source = strip.Strip(source)
	}
	bundle := Bundle(source)

	e.logger.Debug("Run starting",
		zap.String("run_id", h.id.String()),
		zap.Stringer("dialect", dialect),
		zap.Int("source_bytes", len(source)),
	)

	inbox := make(chan Message, inboxSize)
	go e.collect(h, inbox)
	go e.execute(h, bundle, inbox)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.Terminate()
			case <-h.done:
			case <-h.stopped:
			}
		}()
	}
	return h
}

// collect applies messages in emission order until the VM goroutine exits
func (e *Executor) collect(h *Handle, inbox <-chan Message) {
	for msg := range inbox {
		h.deliver(msg)
	}
	// the VM returned without a terminal signal, e.g. interrupted mid-bundle
	h.resolve(StateFailed, "Execution ended without completing")
}

// execute is the isolated context: a private VM on its own goroutine whose
// only way out is the serialized message stream.
func (e *Executor) execute(h *Handle, bundle string, inbox chan<- Message) {
	defer close(inbox)
	defer func() {
		if r := recover(); r != nil {
			inbox <- Message{Type: MessageError, Message: fmt.Sprintf("sandbox runtime fault: %v", r)}
		}
	}()

	vm, err := e.newRuntime(inbox)
	if err != nil {
		inbox <- Message{Type: MessageError, Message: err.Error()}
		return
	}
	if !h.attach(vm) {
		return
	}

	v, err := vm.RunString(Prelude())
	if err != nil {
		inbox <- uncaught(err)
		return
	}
	report, ok := goja.AssertFunction(v)
	if !ok {
		inbox <- Message{Type: MessageError, Message: "sandbox prelude did not return a reporter"}
		return
	}

	_, err = vm.RunString(bundle)
	var exc *goja.Exception
	switch {
	case err == nil:
		inbox <- Message{Type: MessageDone}
	case errors.As(err, &exc):
		if _, rerr := report(goja.Undefined(), exc.Value()); rerr != nil {
			inbox <- uncaught(err)
		}
	default:
		inbox <- uncaught(err)
	}
}

// newRuntime builds a VM with host globals stripped and the post binding set
func (e *Executor) newRuntime(inbox chan<- Message) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(e.config.MaxCallStackSize)

	for _, name := range []string{"process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("failed to strip global %s: %w", name, err)
		}
	}

	// timers never fire: the run is over as soon as the bundle returns
	noop := func(goja.FunctionCall) goja.Value { return vm.ToValue(0) }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := vm.Set(name, noop); err != nil {
			return nil, fmt.Errorf("failed to install %s: %w", name, err)
		}
	}

	post := func(raw string) {
		msg, err := DecodeMessage([]byte(raw))
		if err != nil {
			e.logger.Debug("Dropped malformed sandbox message", zap.Error(err))
			return
		}
		inbox <- msg
	}
	if err := vm.Set(hostPostBinding, post); err != nil {
		return nil, fmt.Errorf("failed to install message bridge: %w", err)
	}
	return vm, nil
}

// uncaught converts an error escaping the bundle (syntax errors, stack
// overflow, interrupts) into an error message.
func uncaught(err error) Message {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return Message{Type: MessageError, Message: exc.Value().String(), Stack: exc.String()}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return Message{Type: MessageError, Message: fmt.Sprintf("Execution interrupted: %v", interrupted.Value())}
	}
	var stack *goja.StackOverflowError
	if errors.As(err, &stack) {
		return Message{Type: MessageError, Message: "RangeError: Maximum call stack size exceeded", Stack: stack.Error()}
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return Message{Type: MessageError, Message: "SyntaxError: " + syntax.Error()}
	}
	return Message{Type: MessageError, Message: err.Error()}
}
