package sandbox

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
)

func (i *Instance) install() error {
	vm := i.vm

	jsonObj := vm.Get("JSON").ToObject(vm)
	objectCtor := vm.Get("Object").ToObject(vm)

	var ok bool
	if i.stringify, ok = goja.AssertFunction(jsonObj.Get("stringify")); !ok {
		return types.Errorf(types.ErrNotSupported, "JSON.stringify")
	}
	if i.parseJSON, ok = goja.AssertFunction(jsonObj.Get("parse")); !ok {
		return types.Errorf(types.ErrNotSupported, "JSON.parse")
	}
	if i.freeze, ok = goja.AssertFunction(objectCtor.Get("freeze")); !ok {
		return types.Errorf(types.ErrNotSupported, "Object.freeze")
	}

	installers := []func() error{
		i.installConsole,
		i.installProcess,
		i.installTimers,
		i.installURL,
		i.installBuffer,
		i.installCrypto,
		i.installFetch,
		i.installKV,
	}

	for _, install := range installers {
		if err := install(); err != nil {
			return err
		}
	}

	return vm.Set("zap", i.importer(1))
}

func (i *Instance) installConsole() error {
	console := i.vm.NewObject()

	levels := map[string]func(msg string, fields ...zap.Field){
		"log":   i.logger.Info,
		"info":  i.logger.Info,
		"debug": i.logger.Debug,
		"warn":  i.logger.Warn,
		"error": i.logger.Error,
	}

	for method, log := range levels {
		log := log
		if err := console.Set(method, func(call goja.FunctionCall) goja.Value {
			log("console", zap.String("message", i.formatArgs(call.Arguments)))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}

	return i.vm.Set("console", console)
}

func (i *Instance) formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))

	for _, arg := range args {
		if obj, ok := arg.(*goja.Object); ok {
			if _, isFn := goja.AssertFunction(obj); !isFn {
				if obj.ClassName() == "Error" {
					parts = append(parts, valueMessage(obj))
					continue
				}
				if encoded, err := i.stringify(goja.Undefined(), obj); err == nil && !goja.IsUndefined(encoded) {
					parts = append(parts, encoded.String())
					continue
				}
			}
		}
		parts = append(parts, arg.String())
	}

	return strings.Join(parts, " ")
}

func (i *Instance) installProcess() error {
	keys := make([]string, 0, len(i.evaluator.env))
	for key := range i.evaluator.env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := i.vm.NewObject()
	for _, key := range keys {
		if err := env.Set(key, i.evaluator.env[key]); err != nil {
			return err
		}
	}

	process := i.vm.NewObject()
	if err := process.Set("env", env); err != nil {
		return err
	}

	if _, err := i.freeze(goja.Undefined(), env); err != nil {
		return err
	}
	if _, err := i.freeze(goja.Undefined(), process); err != nil {
		return err
	}

	return i.vm.Set("process", process)
}

func (i *Instance) installTimers() error {
	setTimeout := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(i.vm.NewTypeError("setTimeout callback must be a function"))
		}

		delay := call.Argument(1).ToInteger()
		if delay < 0 {
			delay = 0
		}

		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		i.nextTimerID++
		id := i.nextTimerID

		i.loop.hold()
		i.timers[id] = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
			i.loop.post(func() error {
				if _, ok := i.timers[id]; !ok {
					return nil
				}
				delete(i.timers, id)
				i.loop.release()

				if _, err := fn(goja.Undefined(), args...); err != nil {
					var interrupted *goja.InterruptedError
					if errors.As(err, &interrupted) {
						return err
					}
					i.logger.Error("Uncaught exception in timer callback", zap.String("error", errorMessage(err)))
				}

				return nil
			})
		})

		return i.vm.ToValue(id)
	}

	clearTimeout := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		if t, ok := i.timers[id]; ok {
			t.Stop()
			delete(i.timers, id)
			i.loop.release()
		}
		return goja.Undefined()
	}

	if err := i.vm.Set("setTimeout", setTimeout); err != nil {
		return err
	}

	return i.vm.Set("clearTimeout", clearTimeout)
}

// importer builds the zap function handed to a module at the given depth.
func (i *Instance) importer(depth int) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()

		if depth >= maxImportDepth {
			err := types.NewEvalFault(name, "import depth exceeded while loading "+name, nil)
			return i.rejected(err)
		}

		return i.goAsync(func(ctx context.Context) func() (goja.Value, error) {
			source, err := i.evaluator.loader.Load(ctx, name)

			return func() (goja.Value, error) {
				if err != nil {
					return nil, types.NewEvalFault(name, "failed to import "+name+": "+err.Error(), err)
				}

				export, err := i.evalModule(name, source, depth+1)
				if err != nil {
					return nil, types.NewEvalFault(name, errorMessage(err), err)
				}

				return export, nil
			}
		})
	}
}

// goAsync runs work off the loop goroutine and settles the returned promise
// on the loop with whatever the continuation produces.
func (i *Instance) goAsync(work func(ctx context.Context) func() (goja.Value, error)) goja.Value {
	promise, resolve, reject := i.vm.NewPromise()

	i.loop.hold()
	go func() {
		settle := work(i.ctx)

		i.loop.post(func() error {
			i.loop.release()

			value, err := settle()
			if err != nil {
				return reject(i.errorValue(err))
			}

			return resolve(value)
		})
	}()

	return i.vm.ToValue(promise)
}

func (i *Instance) resolved(value interface{}) goja.Value {
	promise, resolve, _ := i.vm.NewPromise()
	_ = resolve(value)
	return i.vm.ToValue(promise)
}

func (i *Instance) rejected(err error) goja.Value {
	promise, _, reject := i.vm.NewPromise()
	_ = reject(i.errorValue(err))
	return i.vm.ToValue(promise)
}
