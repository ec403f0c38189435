package sandbox

import (
	"encoding/json"
	"sort"

	"github.com/dop251/goja"

	"github.com/saiset-co/sai-zap/types"
)

func (i *Instance) requestValue(req *types.Request) goja.Value {
	vm := i.vm
	obj := vm.NewObject()

	if req == nil {
		req = &types.Request{}
	}

	_ = obj.Set("method", req.Method)
	_ = obj.Set("path", req.Path)
	_ = obj.Set("query", stringMap(vm, req.Query))
	_ = obj.Set("headers", stringMap(vm, req.Headers))

	if req.Body != nil {
		_ = obj.Set("body", *req.Body)
	} else {
		_ = obj.Set("body", goja.Null())
	}

	return obj
}

func stringMap(vm *goja.Runtime, values map[string]string) *goja.Object {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	obj := vm.NewObject()
	for _, key := range keys {
		_ = obj.Set(key, values[key])
	}

	return obj
}

// toResponse reads status, headers and body off whatever the handler
// produced. A body that is not a string is encoded with the runtime's own
// JSON.stringify and carried as raw JSON.
func (i *Instance) toResponse(value goja.Value) (*types.Response, error) {
	resp := &types.Response{}

	obj, ok := value.(*goja.Object)
	if !ok {
		return resp, nil
	}

	if status := obj.Get("status"); status != nil && !goja.IsUndefined(status) && !goja.IsNull(status) {
		resp.Status = int(status.ToInteger())
	}

	if headers, ok := obj.Get("headers").(*goja.Object); ok {
		resp.Headers = make(map[string]string)
		for _, key := range headers.Keys() {
			resp.Headers[key] = headers.Get(key).String()
		}
	}

	body := obj.Get("body")
	if body == nil || goja.IsUndefined(body) {
		return resp, nil
	}

	if s, ok := body.Export().(string); ok {
		resp.Body = s
		return resp, nil
	}

	encoded, err := i.stringify(goja.Undefined(), body)
	if err != nil {
		return nil, types.NewHandlerFault(i.name, errorMessage(err), err)
	}
	if goja.IsUndefined(encoded) {
		return resp, nil
	}

	resp.Body = json.RawMessage(encoded.String())

	return resp, nil
}
