// Package jsexec hosts caller-supplied scripts against an emulated
// environment, with context-driven timeout and cancellation. Timers run on a
// goja_nodejs event loop that is drained after every script.
package jsexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// timerPairs maps each scheduling global to its cancel function.
var timerPairs = [][2]string{
	{"setTimeout", "clearTimeout"},
	{"setInterval", "clearInterval"},
	{"setImmediate", "clearImmediate"},
}

type pendingTimer struct {
	id     goja.Value
	cancel goja.Callable
}

// Runtime executes scripts in the runtime of one event loop. The runtime is
// shared with the emulated environment, so only one script may run at a time.
type Runtime struct {
	loop    *eventloop.EventLoop
	vm      *goja.Runtime
	logger  *zap.Logger
	timeout time.Duration

	pending []pendingTimer
}

// NewLoop returns an event loop suited to a browser-like environment: no
// Node console and no require.
func NewLoop() *eventloop.EventLoop {
	loop := eventloop.NewEventLoop(eventloop.EnableConsole(false))
	loop.Run(func(vm *goja.Runtime) {
		_ = vm.GlobalObject().Delete("require")
	})
	return loop
}

// NewRuntime wraps loop and vm, the loop's own runtime. A nil loop creates
// one; a nil vm is taken from the loop, which must then not be running. A
// non-positive timeout selects DefaultTimeout.
func NewRuntime(loop *eventloop.EventLoop, vm *goja.Runtime, timeout time.Duration, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loop == nil {
		loop, vm = NewLoop(), nil
	}
	if vm == nil {
		loop.Run(func(v *goja.Runtime) { vm = v })
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Runtime{
		loop:    loop,
		vm:      vm,
		logger:  logger.Named("jsexec"),
		timeout: timeout,
	}
	r.trackTimers()
	return r
}

// VM returns the underlying runtime.
func (r *Runtime) VM() *goja.Runtime { return r.vm }

// Interrupt stops the running script and the timers it is waiting on.
func (r *Runtime) Interrupt(reason string) {
	r.vm.Interrupt(reason)
	r.loop.StopNoWait()
}

// trackTimers wraps the loop's scheduling globals so the timers of a script
// that runs out of time can be cancelled.
func (r *Runtime) trackTimers() {
	global := r.vm.GlobalObject()
	for _, pair := range timerPairs {
		schedule, ok := goja.AssertFunction(global.Get(pair[0]))
		if !ok {
			continue
		}
		cancel, ok := goja.AssertFunction(global.Get(pair[1]))
		if !ok {
			continue
		}
		_ = global.Set(pair[0], func(call goja.FunctionCall) goja.Value {
			id, err := schedule(call.This, call.Arguments...)
			if err != nil {
				var ex *goja.Exception
				if errors.As(err, &ex) {
					panic(ex.Value())
				}
				panic(r.vm.NewGoError(err))
			}
			r.pending = append(r.pending, pendingTimer{id: id, cancel: cancel})
			return id
		})
	}
}

// ExecuteScript runs script, then runs its timers until none are left. A
// script shaped like a function wrapper is evaluated and then called with
// args; any other script runs as-is. The timeout covers both phases.
func (r *Runtime) ExecuteScript(ctx context.Context, script string, args []any) (any, error) {
	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until > 0 && until < timeout {
			timeout = until
		}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	var stopErr error
	r.vm.ClearInterrupt()
	r.pending = nil

	go func() {
		defer close(stopped)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			r.logger.Warn("JavaScript execution timeout", zap.Duration("timeout", timeout))
			stopErr = fmt.Errorf("execution timeout exceeded (%v)", timeout)
			r.Interrupt(stopErr.Error())
		case <-ctx.Done():
			r.logger.Debug("JavaScript execution context canceled")
			stopErr = ctx.Err()
			r.Interrupt(ctx.Err().Error())
		case <-done:
		}
	}()

	var (
		result goja.Value
		err    error
	)
	r.loop.Run(func(*goja.Runtime) {
		if isFunctionWrapper(script) {
			result, err = r.executeFunctionWrapper(script, args)
			return
		}
		if len(args) > 0 {
			r.logger.Debug("Arguments are ignored in snippet mode")
		}
		result, err = r.vm.RunString(script)
	})

	close(done)
	<-stopped

	if stopErr != nil {
		r.cancelPending()
		if err == nil {
			err = stopErr
		}
	}

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) || errors.Is(err, stopErr) {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("javascript execution interrupted: %w", ctx.Err())
			}
			return nil, fmt.Errorf("javascript execution interrupted: %w", err)
		}
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, fmt.Errorf("javascript exception: %s", ex.Error())
		}
		return nil, fmt.Errorf("javascript error: %w", err)
	}

	if result == nil {
		return nil, nil
	}
	if promise, ok := result.Export().(*goja.Promise); ok {
		return r.settle(promise)
	}
	return result.Export(), nil
}

// cancelPending clears every timer the interrupted script left behind so the
// next script starts with an idle loop.
func (r *Runtime) cancelPending() {
	pending := r.pending
	r.pending = nil
	r.vm.ClearInterrupt()
	r.loop.Run(func(*goja.Runtime) {
		for _, p := range pending {
			_, _ = p.cancel(goja.Undefined(), p.id)
		}
	})
	r.logger.Debug("Cancelled pending timers", zap.Int("count", len(pending)))
}

func isFunctionWrapper(script string) bool {
	s := strings.TrimSpace(script)
	if len(s) < 5 {
		return false
	}
	for _, prefix := range []string{"(function", "(async function", "function", "async function", "(()=>", "(() =>", "(async ("} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func (r *Runtime) executeFunctionWrapper(script string, args []any) (goja.Value, error) {
	prog, err := goja.Compile("", "("+script+")", false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile function wrapper: %w", err)
	}
	val, err := r.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, errors.New("script did not evaluate to a callable function wrapper")
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = r.vm.ToValue(a)
	}
	return fn(r.vm.GlobalObject(), jsArgs...)
}

// settle reports a promise's outcome once the loop has drained. A promise
// still pending at that point waits on something other than a timer.
func (r *Runtime) settle(p *goja.Promise) (any, error) {
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result().Export(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("javascript promise rejected: %v", p.Result().Export())
	default:
		r.logger.Warn("JavaScript returned a promise that never settled")
		return p, nil
	}
}
