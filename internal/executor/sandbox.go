package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// errInterrupted is the value delivered through goja.Interrupt when the
// run context expires; template code cannot catch it.
var errInterrupted = errors.New("execution interrupted")

// sandboxError classifies a failed sandbox run.
type sandboxError struct {
	interrupted bool
	message     string
}

func (e *sandboxError) Error() string { return e.message }

// compileTemplate wraps the body in an async function so template code can
// use await and return a final value.
func compileTemplate(name, code string) (*goja.Program, error) {
	src := "(async function(params, credentials) {\n" + code + "\n})"
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}
	return prog, nil
}

// runSandbox executes a compiled template with the given capability table.
// Every host facility blocks synchronously and honors ctx, so the returned
// promise is settled by the time the call returns. A watchdog interrupts
// the interpreter when ctx expires; the interrupt cannot be suppressed by
// template code.
func runSandbox(
	ctx context.Context,
	prog *goja.Program,
	params map[string]any,
	credentials map[string]string,
	console *Console,
	allowed map[string]bool,
) (result any, runErr error) {
	vm := goja.New()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(errInterrupted)
		case <-watchdogDone:
		}
	}()

	bindConsole(vm, console)
	bindRequire(ctx, vm, allowed)
	vm.Set("sleep", sleepFunc(ctx))

	fnValue, err := vm.RunProgram(prog)
	if err != nil {
		return nil, classify(err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, &sandboxError{message: "template body is not callable"}
	}

	res, err := fn(goja.Undefined(), vm.ToValue(params), vm.ToValue(credentials))
	if err != nil {
		return nil, classify(err)
	}

	if promise, ok := res.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateRejected:
			return nil, &sandboxError{message: valueMessage(promise.Result())}
		case goja.PromiseStatePending:
			// Cannot happen with synchronous host facilities; guard anyway.
			return nil, &sandboxError{message: "template promise did not settle"}
		}
		return exportValue(promise.Result()), nil
	}
	return exportValue(res), nil
}

// classify maps goja errors onto sandboxError, flagging interrupts.
func classify(err error) *sandboxError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &sandboxError{interrupted: true, message: "execution interrupted"}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &sandboxError{message: valueMessage(exception.Value())}
	}
	return &sandboxError{message: err.Error()}
}

func valueMessage(v goja.Value) string {
	if v == nil {
		return "unknown error"
	}
	return v.String()
}

// exportValue converts a goja value into plain Go data for persistence.
func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// bindConsole exposes the five recognized severities to template code.
func bindConsole(vm *goja.Runtime, console *Console) {
	obj := vm.NewObject()
	for name, severity := range map[string]string{
		"log":   "LOG",
		"warn":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"debug": "DEBUG",
	} {
		sev := severity
		obj.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = exportValue(a)
			}
			console.Capture(sev, args...)
			return goja.Undefined()
		})
	}
	vm.Set("console", obj)
}

// bindRequire installs the capability table: require(name) resolves only
// allow-listed modules and fails deterministically for everything else.
func bindRequire(ctx context.Context, vm *goja.Runtime, allowed map[string]bool) {
	vm.Set("require", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if !allowed[name] {
			panic(vm.ToValue(fmt.Sprintf("Module '%s' is not allowed", name)))
		}
		builder, ok := moduleBuilders[name]
		if !ok {
			panic(vm.ToValue(fmt.Sprintf("Module '%s' is not allowed", name)))
		}
		return builder(ctx, vm)
	})
}

// sleepFunc returns a blocking, context-aware sleep for template code.
func sleepFunc(ctx context.Context) func(ms int64) error {
	return func(ms int64) error {
		if ms <= 0 {
			return nil
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return errInterrupted
		case <-timer.C:
			return nil
		}
	}
}
