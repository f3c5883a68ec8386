// Package jsvm executes embedded JavaScript modules from mount plans:
// hook handlers and tools shipped as script source.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds one script execution.
const DefaultTimeout = 10 * time.Second

// ErrInterrupted is returned when a script is stopped by timeout or
// context cancellation.
var ErrInterrupted = errors.New("jsvm: execution interrupted")

// ExecutionError wraps a script failure with its origin.
type ExecutionError struct {
	Script string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("jsvm: script %s: %v", e.Script, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Result holds one execution's return value and captured console output.
type Result struct {
	Value any
	Logs  []string
}

// Runtime executes scripts in fresh, isolated VMs. Each execution gets
// its own goja runtime so scripts cannot leak state into each other.
type Runtime struct {
	timeout time.Duration
}

// Option configures the runtime.
type Option func(*Runtime)

// WithTimeout bounds script execution time.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a JavaScript runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute evaluates script and returns its completion value.
func (r *Runtime) Execute(ctx context.Context, script, name string) (*Result, error) {
	return r.run(ctx, name, func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunScript(name, script)
	})
}

// CallFunction evaluates script, then invokes the named top-level
// function with arg. The argument crosses into JS as a plain object.
func (r *Runtime) CallFunction(ctx context.Context, script, fnName, name string, arg any) (*Result, error) {
	return r.run(ctx, name, func(vm *goja.Runtime) (goja.Value, error) {
		if _, err := vm.RunScript(name, script); err != nil {
			return nil, err
		}
		fnVal := vm.Get(fnName)
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return nil, fmt.Errorf("function %q is not defined", fnName)
		}
		return fn(goja.Undefined(), vm.ToValue(arg))
	})
}

func (r *Runtime) run(ctx context.Context, name string, body func(vm *goja.Runtime) (goja.Value, error)) (*Result, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	result := &Result{}
	if err := installConsole(vm, name, &result.Logs); err != nil {
		return nil, &ExecutionError{Script: name, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(ErrInterrupted)
		case <-watchdogDone:
		}
	}()

	val, err := body(vm)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, &ExecutionError{Script: name, Err: ErrInterrupted}
		}
		return nil, &ExecutionError{Script: name, Err: err}
	}

	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		result.Value = val.Export()
	}
	return result, nil
}

// installConsole wires console.log/warn/error into the log capture.
func installConsole(vm *goja.Runtime, script string, logs *[]string) error {
	console := vm.NewObject()
	capture := func(level string) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			var msg string
			for i, arg := range call.Arguments {
				if i > 0 {
					msg += " "
				}
				msg += arg.String()
			}
			*logs = append(*logs, msg)
			log.Debug().Str("script", script).Str("level", level).Msg(msg)
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, capture(level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}
