package sandbox

import (
	"context"

	"github.com/dop251/goja"
)

func (i *Instance) installKV() error {
	store := i.evaluator.kv
	if store == nil {
		return nil
	}

	vm := i.vm
	kv := vm.NewObject()

	if err := kv.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()

		return i.goAsync(func(ctx context.Context) func() (goja.Value, error) {
			value, found, err := store.Get(ctx, key)

			return func() (goja.Value, error) {
				if err != nil {
					return nil, err
				}
				if !found {
					return goja.Null(), nil
				}
				return vm.ToValue(value), nil
			}
		})
	}); err != nil {
		return err
	}

	if err := kv.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		value := call.Argument(1).Export()

		return i.goAsync(func(ctx context.Context) func() (goja.Value, error) {
			err := store.Set(ctx, key, value)

			return func() (goja.Value, error) {
				return goja.Undefined(), err
			}
		})
	}); err != nil {
		return err
	}

	if err := kv.Set("del", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()

		return i.goAsync(func(ctx context.Context) func() (goja.Value, error) {
			err := store.Delete(ctx, key)

			return func() (goja.Value, error) {
				return goja.Undefined(), err
			}
		})
	}); err != nil {
		return err
	}

	return vm.Set("kv", kv)
}
