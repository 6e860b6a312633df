package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/id"
)

// ErrTerminated is returned by Wait when the run was discarded before any
// terminal signal arrived. No Result exists for such a run.
var ErrTerminated = errors.New("sandbox run terminated")

// State is the lifecycle state of a run
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Observer receives one notification per finished run
type Observer interface {
	ObserveRun(strategy Strategy, state State, d time.Duration)
}

// Handle is one in-flight isolated run. It owns its VM and its deadline
// timer exclusively; the first terminal signal wins and later ones are
// ignored.
type Handle struct {
	id         id.RunID
	generation uint64
	timeout    time.Duration
	started    time.Time
	logger     *zap.Logger
	observer   Observer

	mu     sync.Mutex
	state  State
	output []string
	vm     *goja.Runtime
	timer  *time.Timer
	result Result

	done    chan struct{} // closed once a Result exists
	stopped chan struct{} // closed by Terminate
}

func newHandle(runID id.RunID, generation uint64, timeout time.Duration, logger *zap.Logger, observer Observer) *Handle {
	return &Handle{
		id:         runID,
		generation: generation,
		timeout:    timeout,
		logger:     logger,
		observer:   observer,
		state:      StateIdle,
		output:     []string{},
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// ID returns the run identifier
func (h *Handle) ID() id.RunID { return h.id }

// Generation returns the executor generation this run was started in
func (h *Handle) Generation() uint64 { return h.generation }

// State returns the current lifecycle state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the run has a Result
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the result if the run resolved
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the run resolves, is terminated, or ctx ends
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-h.stopped:
		// a result that raced the termination still counts
		select {
		case <-h.done:
			return h.result, nil
		default:
		}
		return Result{}, ErrTerminated
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Terminate discards the VM. It does not produce a Result; calling it on a
// finished run, or twice, is a no-op.
func (h *Handle) Terminate() {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.state = StateTerminated
	h.stopTimerLocked()
	vm := h.vm
	h.vm = nil
	h.mu.Unlock()

	if vm != nil {
		vm.Interrupt(ErrTerminated)
	}
	close(h.stopped)

	h.logger.Debug("Run terminated", zap.String("run_id", h.id.String()))
	if h.observer != nil {
		h.observer.ObserveRun(StrategyIsolated, StateTerminated, time.Since(h.started))
	}
}

// begin moves Idle -> Starting and arms the deadline
func (h *Handle) begin() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.started = time.Now()
	h.state = StateStarting
	h.timer = time.AfterFunc(h.timeout, h.expire)
}

// attach hands the freshly built VM to the handle. It returns false when the
// run already ended, in which case the caller must not execute anything.
func (h *Handle) attach(vm *goja.Runtime) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Terminal() {
		return false
	}
	h.vm = vm
	h.state = StateRunning
	return true
}

// deliver applies one message from the VM. Called only from the collector.
func (h *Handle) deliver(msg Message) {
	switch msg.Type {
	case MessageConsole:
		cm, ok := msg.Console()
		if !ok {
			return
		}
		h.mu.Lock()
		if !h.state.Terminal() {
			h.output = append(h.output, cm.String())
		}
		h.mu.Unlock()
	case MessageDone:
		h.resolve(StateCompleted, "")
	case MessageError:
		h.resolve(StateFailed, msg.ErrorText())
	}
}

// expire fires when the deadline passes
func (h *Handle) expire() {
	if h.resolve(StateTimedOut, fmt.Sprintf("Execution timed out after %dms", h.timeout.Milliseconds())) {
		h.logger.Warn("Run timed out",
			zap.String("run_id", h.id.String()),
			zap.Duration("timeout", h.timeout),
		)
	}
}

// resolve records the single terminal outcome. It returns false if another
// signal got there first.
func (h *Handle) resolve(state State, errText string) bool {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.state = state
	h.stopTimerLocked()

	output := make([]string, len(h.output))
	copy(output, h.output)
	d := time.Since(h.started)

	if state == StateCompleted {
		h.result = Result{Success: true, Output: output, Duration: d, Strategy: StrategyIsolated}
	} else {
		h.result = Failure(StrategyIsolated, errText, output, d)
	}

	// the VM is discarded either way; a timed out one may still be spinning
	vm := h.vm
	h.vm = nil
	h.mu.Unlock()

	if vm != nil && state != StateCompleted {
		vm.Interrupt(errors.New(state.String()))
	}

	h.logger.Debug("Run finished",
		zap.String("run_id", h.id.String()),
		zap.Stringer("state", state),
		zap.Duration("duration", d),
		zap.Int("output_lines", len(output)),
	)
	if h.observer != nil {
		h.observer.ObserveRun(StrategyIsolated, state, d)
	}
	close(h.done)
	return true
}

func (h *Handle) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
