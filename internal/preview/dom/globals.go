package dom

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

func (f *Frame) installGlobals() error {
	vm := f.vm
	vm.SetMaxCallStackSize(sandbox.DefaultConfig().MaxCallStackSize)
	vm.SetPromiseRejectionTracker(f.trackRejection)

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify unavailable")
	}
	f.stringify = stringify

	f.window = vm.GlobalObject()
	f.document = f.newDocument()

	globals := map[string]any{
		"window":        f.window,
		"self":          f.window,
		"document":      f.document,
		"console":       f.newConsole(),
		"location":      f.newLocation(),
		"navigator":     map[string]any{"userAgent": "sandbox-preview", "onLine": false},
		"setTimeout":    func(call goja.FunctionCall) goja.Value { return f.setTimer(call, false) },
		"setInterval":   func(call goja.FunctionCall) goja.Value { return f.setTimer(call, true) },
		"clearTimeout":  f.clearTimer,
		"clearInterval": f.clearTimer,
		"open":          func(goja.FunctionCall) goja.Value { return goja.Null() },
		"alert":         func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"process":       goja.Undefined(),
		"module":        goja.Undefined(),
		"exports":       goja.Undefined(),
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}

	for _, name := range sandbox.BlockedGlobals {
		name := name
		if err := vm.Set(name, func(goja.FunctionCall) goja.Value {
			exc, err := vm.New(vm.Get("Error"), vm.ToValue(name+" is not available in the sandbox"))
			if err != nil {
				panic(vm.NewTypeError(name + " is not available in the sandbox"))
			}
			panic(exc)
		}); err != nil {
			return fmt.Errorf("failed to block %s: %w", name, err)
		}
	}

	// the parent only exposes postMessage; top is the frame itself so
	// top-level navigation has nowhere to go
	parent := vm.NewObject()
	if err := parent.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		f.deliver(call.Argument(0))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	for name, value := range map[string]any{"parent": parent, "top": f.window, "frameElement": goja.Null()} {
		if err := f.window.Set(name, value); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}

	f.installEventTarget(f.window)
	return f.window.Set("onerror", goja.Null())
}

// newConsole is the frame's native console. Output goes to the debug log
// only; instrumentation wraps it to reach the host.
func (f *Frame) newConsole() *goja.Object {
	con := f.vm.NewObject()
	for _, ch := range []string{"log", "error", "warn", "info", "debug"} {
		ch := ch
		_ = con.Set(ch, func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.String()
			}
			f.logger.Debug("Frame console", zap.String("channel", ch), zap.String("text", strings.Join(args, " ")))
			return goja.Undefined()
		})
	}
	return con
}

// newLocation ignores every navigation attempt
func (f *Frame) newLocation() *goja.Object {
	loc := f.vm.NewObject()
	href := f.vm.ToValue("about:srcdoc")
	ignore := f.vm.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = loc.DefineAccessorProperty("href",
		f.vm.ToValue(func(goja.FunctionCall) goja.Value { return href }),
		ignore, goja.FLAG_FALSE, goja.FLAG_TRUE)
	for _, name := range []string{"assign", "replace", "reload"} {
		_ = loc.Set(name, ignore)
	}
	_ = loc.Set("toString", func(goja.FunctionCall) goja.Value { return href })
	return loc
}

func (f *Frame) setReadyState(state string) {
	_ = f.document.Set("readyState", state)
}

// installEventTarget gives obj addEventListener, removeEventListener and
// dispatchEvent backed by the frame's listener table
func (f *Frame) installEventTarget(obj *goja.Object) {
	vm := f.vm
	_ = obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}
		byType := f.listeners[obj]
		if byType == nil {
			byType = make(map[string][]goja.Value)
			f.listeners[obj] = byType
		}
		for _, existing := range byType[typ] {
			if existing.StrictEquals(fn) {
				return goja.Undefined()
			}
		}
		byType[typ] = append(byType[typ], fn)
		return goja.Undefined()
	})
	_ = obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		list := f.listeners[obj][typ]
		for i, existing := range list {
			if existing.StrictEquals(fn) {
				f.listeners[obj][typ] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
	_ = obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		ev := call.Argument(0).ToObject(vm)
		f.invokeListeners(obj, ev.Get("type").String(), ev)
		return vm.ToValue(true)
	})
}

// dispatch fires a synthetic event on target, running the on<type> property
// and then every listener
func (f *Frame) dispatch(target *goja.Object, typ string, extra map[string]any) *goja.Object {
	ev := f.newEvent(target, typ, extra)
	if handler, ok := goja.AssertFunction(target.Get("on" + strings.ToLower(typ))); ok {
		f.guarded(func() error {
			_, err := handler(target, ev)
			return err
		})
	}
	f.invokeListeners(target, typ, ev)
	return ev
}

func (f *Frame) invokeListeners(target *goja.Object, typ string, ev *goja.Object) {
	list := append([]goja.Value(nil), f.listeners[target][typ]...)
	for _, fn := range list {
		call, _ := goja.AssertFunction(fn)
		f.guarded(func() error {
			_, err := call(target, ev)
			return err
		})
	}
}

func (f *Frame) newEvent(target *goja.Object, typ string, extra map[string]any) *goja.Object {
	ev := f.vm.NewObject()
	_ = ev.Set("type", typ)
	_ = ev.Set("target", target)
	_ = ev.Set("currentTarget", target)
	_ = ev.Set("defaultPrevented", false)
	_ = ev.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		_ = ev.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	_ = ev.Set("stopPropagation", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	for k, v := range extra {
		_ = ev.Set(k, v)
	}
	return ev
}

// reportError routes an uncaught script error the way a browser does:
// window.onerror first, then "error" listeners
func (f *Frame) reportError(err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(f.interruptCause(interrupted), ErrClosed) {
			return
		}
		f.logger.Warn("Frame script interrupted", zap.Error(err))
	}

	message, errValue := describe(f.vm, err)
	f.logger.Debug("Uncaught frame error", zap.String("message", message))

	if handler, ok := goja.AssertFunction(f.window.Get("onerror")); ok {
		// a handler that throws is not reported again
		_, _ = handler(f.window, f.vm.ToValue(message), f.vm.ToValue("about:srcdoc"),
			f.vm.ToValue(0), f.vm.ToValue(0), errValue)
	}
	ev := f.newEvent(f.window, "error", map[string]any{"message": message, "error": errValue})
	for _, fn := range append([]goja.Value(nil), f.listeners[f.window]["error"]...) {
		call, _ := goja.AssertFunction(fn)
		_, _ = call(f.window, ev)
	}
}

func (f *Frame) interruptCause(e *goja.InterruptedError) error {
	if cause, ok := e.Value().(error); ok {
		return cause
	}
	return nil
}

// describe builds the browser-style "Uncaught X" message and the thrown value
func describe(vm *goja.Runtime, err error) (string, goja.Value) {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return "Uncaught " + exc.Value().String(), exc.Value()
	}
	return "Uncaught " + err.Error(), vm.ToValue(err.Error())
}

func (f *Frame) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		f.rejected[p] = struct{}{}
	case goja.PromiseRejectionHandle:
		delete(f.rejected, p)
	}
}

// flushRejections fires unhandledrejection for promises still unhandled
// after the task that rejected them
func (f *Frame) flushRejections() {
	if len(f.rejected) == 0 {
		return
	}
	pending := f.rejected
	f.rejected = make(map[*goja.Promise]struct{})
	for p := range pending {
		f.dispatch(f.window, "unhandledrejection", map[string]any{
			"reason":  p.Result(),
			"promise": f.vm.ToValue(p),
		})
	}
}

func (f *Frame) setTimer(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return f.vm.ToValue(0)
	}
	if len(f.timers) >= maxTimers {
		f.logger.Warn("Frame timer limit reached", zap.Int("limit", maxTimers))
		return f.vm.ToValue(0)
	}

	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < minInterval {
		delay = minInterval
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	f.nextTimer++
	id := f.nextTimer
	var arm func()
	arm = func() {
		f.timers[id] = time.AfterFunc(delay, func() {
			f.post(func() {
				if _, live := f.timers[id]; !live {
					return
				}
				if !repeat {
					delete(f.timers, id)
				}
				f.guarded(func() error {
					_, err := fn(goja.Undefined(), args...)
					return err
				})
				if _, live := f.timers[id]; live && repeat {
					arm()
				}
			})
		})
	}
	arm()
	return f.vm.ToValue(id)
}

func (f *Frame) clearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := f.timers[id]; ok {
		t.Stop()
		delete(f.timers, id)
	}
	return goja.Undefined()
}
