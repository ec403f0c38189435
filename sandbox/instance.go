package sandbox

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/dop251/goja"

	"github.com/saiset-co/sai-zap/types"
)

var exportDefault = regexp.MustCompile(`(?m)^export\s+default\s+`)

// Instance is one evaluated handler module bound to its own runtime.
// It is not safe for concurrent use.
type Instance struct {
	evaluator *Evaluator
	name      string
	vm        *goja.Runtime
	loop      *eventLoop
	logger    types.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	export    goja.Value

	stringify goja.Callable
	parseJSON goja.Callable
	freeze    goja.Callable

	timers      map[int64]*time.Timer
	nextTimerID int64
}

func (i *Instance) Name() string {
	return i.name
}

// Export returns the module's default export as seen by the runtime.
func (i *Instance) Export() goja.Value {
	return i.export
}

// Invoke calls the export with the request and converts what it settles to.
func (i *Instance) Invoke(ctx context.Context, req *types.Request) (*types.Response, error) {
	fn, ok := goja.AssertFunction(i.export)
	if !ok {
		return nil, types.NewHandlerFault(i.name, types.ErrHandlerNotCallable.Error(), types.ErrHandlerNotCallable)
	}

	result, err := i.call(ctx, fn, i.requestValue(req))
	if err != nil {
		return nil, err
	}

	return i.toResponse(result)
}

// Run calls the export with no arguments and discards the result.
func (i *Instance) Run(ctx context.Context) error {
	fn, ok := goja.AssertFunction(i.export)
	if !ok {
		return types.NewHandlerFault(i.name, types.ErrHandlerNotCallable.Error(), types.ErrHandlerNotCallable)
	}

	_, err := i.call(ctx, fn)

	return err
}

// Call invokes the export with arbitrary arguments and waits for the result.
func (i *Instance) Call(ctx context.Context, args ...interface{}) (goja.Value, error) {
	fn, ok := goja.AssertFunction(i.export)
	if !ok {
		return nil, types.NewHandlerFault(i.name, types.ErrHandlerNotCallable.Error(), types.ErrHandlerNotCallable)
	}

	values := make([]goja.Value, len(args))
	for n, arg := range args {
		values[n] = i.vm.ToValue(arg)
	}

	return i.call(ctx, fn, values...)
}

func (i *Instance) Close() {
	i.cancel()
	i.loop.close()

	for id, t := range i.timers {
		t.Stop()
		delete(i.timers, id)
	}
}

func (i *Instance) call(ctx context.Context, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	stop := context.AfterFunc(ctx, func() {
		i.vm.Interrupt(types.ErrHandlerInterrupted)
	})
	defer stop()

	value, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, i.handlerFault(err)
	}

	return i.await(ctx, value)
}

// await drives the loop until the promise settles. Non-promise values are
// returned as they are.
func (i *Instance) await(ctx context.Context, value goja.Value) (goja.Value, error) {
	if value == nil {
		return goja.Undefined(), nil
	}

	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}

	for {
		if err := i.loop.drain(); err != nil {
			return nil, i.handlerFault(err)
		}

		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return promise.Result(), nil
		case goja.PromiseStateRejected:
			return nil, i.rejectionFault(promise.Result())
		}

		if i.loop.idle() {
			return nil, types.NewHandlerFault(i.name, types.ErrHandlerStalled.Error(), types.ErrHandlerStalled)
		}

		select {
		case <-i.loop.wake:
		case <-ctx.Done():
			return nil, types.NewHandlerFault(i.name, types.ErrHandlerInterrupted.Error(), types.WrapError(ctx.Err(), types.ErrHandlerInterrupted.Error()))
		}
	}
}

// evalModule compiles source as a module body and returns module.exports.
// Imports run in the importer's runtime, so a global written by a library
// is visible to the handler that imported it for the rest of the
// invocation. Isolation is per invocation, not per module.
func (i *Instance) evalModule(name, source string, depth int) (goja.Value, error) {
	wrapped := "(function (module, exports, zap) {\n" + rewriteExport(source) + "\n})"

	compiled, err := i.vm.RunScript(name+".zap", wrapped)
	if err != nil {
		return nil, err
	}

	fn, ok := goja.AssertFunction(compiled)
	if !ok {
		return nil, types.Errorf(types.ErrHandlerResultFormat, "module %s did not compile to a function", name)
	}

	module := i.vm.NewObject()
	exports := i.vm.NewObject()
	if err = module.Set("exports", exports); err != nil {
		return nil, err
	}

	if _, err = fn(goja.Undefined(), module, exports, i.vm.ToValue(i.importer(depth))); err != nil {
		return nil, err
	}

	return module.Get("exports"), nil
}

// rewriteExport turns the first `export default` line into a module.exports
// assignment. Later occurrences are left alone.
func rewriteExport(source string) string {
	loc := exportDefault.FindStringIndex(source)
	if loc == nil {
		return source
	}

	return source[:loc[0]] + "module.exports = " + source[loc[1]:]
}

func (i *Instance) handlerFault(err error) error {
	var fault *types.Fault
	if errors.As(err, &fault) {
		return fault
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return types.NewHandlerFault(i.name, types.ErrHandlerInterrupted.Error(), err)
	}

	return types.NewHandlerFault(i.name, errorMessage(err), err)
}

func (i *Instance) rejectionFault(reason goja.Value) error {
	if fault := faultOf(reason); fault != nil {
		return fault
	}

	return types.NewHandlerFault(i.name, valueMessage(reason), nil)
}

// errorValue converts a Go error into something JS code can catch.
func (i *Instance) errorValue(err error) goja.Value {
	var exception *goja.Exception
	if errors.As(err, &exception) && exception.Value() != nil {
		return exception.Value()
	}

	return i.vm.NewGoError(err)
}

func faultOf(value goja.Value) *types.Fault {
	obj, ok := value.(*goja.Object)
	if !ok {
		return nil
	}

	inner := obj.Get("value")
	if inner == nil {
		return nil
	}

	err, ok := inner.Export().(error)
	if !ok {
		return nil
	}

	var fault *types.Fault
	if errors.As(err, &fault) {
		return fault
	}

	return nil
}

func errorMessage(err error) string {
	var exception *goja.Exception
	if errors.As(err, &exception) && exception.Value() != nil {
		return valueMessage(exception.Value())
	}

	return err.Error()
}

func valueMessage(value goja.Value) string {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "handler failed"
	}

	if obj, ok := value.(*goja.Object); ok {
		if message := obj.Get("message"); message != nil && !goja.IsUndefined(message) {
			return message.String()
		}
	}

	return value.String()
}
