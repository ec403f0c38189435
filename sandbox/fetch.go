package sandbox

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-zap/types"
)

const maxRedirects = 10

type fetchRequest struct {
	method  string
	url     string
	headers []queryPair
	body    []byte
}

type fetchResult struct {
	status     int
	url        string
	redirected bool
	headers    []queryPair
	body       []byte
}

func (i *Instance) installFetch() error {
	return i.vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		req, err := i.buildFetchRequest(call.Argument(0), call.Argument(1))
		if err != nil {
			return i.rejected(err)
		}

		return i.goAsync(func(ctx context.Context) func() (goja.Value, error) {
			result, err := i.doFetch(ctx, req)

			return func() (goja.Value, error) {
				if err != nil {
					return nil, types.WrapError(err, "fetch failed")
				}
				return i.responseValue(result), nil
			}
		})
	})
}

func (i *Instance) buildFetchRequest(input, init goja.Value) (*fetchRequest, error) {
	req := &fetchRequest{
		method: fasthttp.MethodGet,
		url:    input.String(),
	}

	if parsed, err := url.Parse(req.url); err != nil || parsed.Scheme == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "fetch: invalid URL %q", req.url)
	}

	options, ok := init.(*goja.Object)
	if !ok {
		return req, nil
	}

	if method := options.Get("method"); method != nil && !goja.IsUndefined(method) {
		req.method = strings.ToUpper(method.String())
	}

	if headers, ok := options.Get("headers").(*goja.Object); ok {
		var pairs [][]string
		if _, isArray := headers.Export().([]interface{}); isArray {
			if err := i.vm.ExportTo(headers, &pairs); err != nil {
				return nil, types.WrapError(err, "fetch: invalid headers")
			}
		} else {
			for _, key := range headers.Keys() {
				value := headers.Get(key)
				if _, isFn := goja.AssertFunction(value); isFn {
					continue
				}
				pairs = append(pairs, []string{key, value.String()})
			}
		}
		for _, pair := range pairs {
			if len(pair) == 2 {
				req.headers = append(req.headers, queryPair{key: pair[0], value: pair[1]})
			}
		}
	}

	body := options.Get("body")
	if body == nil || goja.IsUndefined(body) || goja.IsNull(body) {
		return req, nil
	}

	switch value := body.(type) {
	case *goja.Object:
		if value.Get("append") != nil && value.Get("getAll") != nil {
			req.body = []byte(value.String())
			req.headers = append(req.headers, queryPair{key: "Content-Type", value: "application/x-www-form-urlencoded;charset=UTF-8"})
			break
		}
		data, err := i.bytesOf(value)
		if err != nil {
			req.body = []byte(value.String())
			break
		}
		req.body = append([]byte(nil), data...)
	default:
		req.body = []byte(value.String())
	}

	return req, nil
}

func (i *Instance) doFetch(ctx context.Context, fr *fetchRequest) (*fetchResult, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(i.evaluator.config.FetchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req.Header.SetMethod(fr.method)
	for _, h := range fr.headers {
		req.Header.Add(h.key, h.value)
	}
	if len(fr.body) > 0 {
		req.SetBody(fr.body)
	}

	target := fr.url
	result := &fetchResult{}

	for redirects := 0; ; redirects++ {
		req.SetRequestURI(target)

		if err := i.evaluator.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		location := string(resp.Header.Peek(fasthttp.HeaderLocation))
		if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) || location == "" {
			break
		}
		if redirects >= maxRedirects {
			return nil, types.Errorf(types.ErrInvalidParameter, "too many redirects fetching %s", fr.url)
		}

		next, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		if next, err = next.Parse(location); err != nil {
			return nil, err
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusSeeOther || ((status == fasthttp.StatusMovedPermanently || status == fasthttp.StatusFound) && fr.method == fasthttp.MethodPost) {
			req.Header.SetMethod(fasthttp.MethodGet)
			req.ResetBody()
		}

		target = next.String()
		result.redirected = true
		resp.Reset()
	}

	result.status = resp.StatusCode()
	result.url = target
	result.body = append([]byte(nil), resp.Body()...)

	resp.Header.VisitAll(func(key, value []byte) {
		result.headers = append(result.headers, queryPair{key: strings.ToLower(string(key)), value: string(value)})
	})

	return result, nil
}

func (i *Instance) responseValue(result *fetchResult) goja.Value {
	vm := i.vm
	obj := vm.NewObject()

	_ = obj.Set("ok", result.status >= 200 && result.status < 300)
	_ = obj.Set("status", result.status)
	_ = obj.Set("statusText", fasthttp.StatusMessage(result.status))
	_ = obj.Set("url", result.url)
	_ = obj.Set("redirected", result.redirected)
	_ = obj.Set("headers", i.headersValue(result.headers))

	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		return i.resolved(string(result.body))
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		value, err := i.parseJSON(goja.Undefined(), vm.ToValue(string(result.body)))
		if err != nil {
			return i.rejected(err)
		}
		return i.resolved(value)
	})
	_ = obj.Set("arrayBuffer", func(goja.FunctionCall) goja.Value {
		return i.resolved(vm.NewArrayBuffer(append([]byte(nil), result.body...)))
	})

	return obj
}

func (i *Instance) headersValue(headers []queryPair) goja.Value {
	vm := i.vm
	obj := vm.NewObject()

	lookup := func(name string) (string, bool) {
		name = strings.ToLower(name)
		var values []string
		for _, h := range headers {
			if h.key == name {
				values = append(values, h.value)
			}
		}
		return strings.Join(values, ", "), len(values) > 0
	}

	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		if value, ok := lookup(call.Argument(0).String()); ok {
			return vm.ToValue(value)
		}
		return goja.Null()
	})
	_ = obj.Set("has", func(call goja.FunctionCall) goja.Value {
		_, ok := lookup(call.Argument(0).String())
		return vm.ToValue(ok)
	})
	_ = obj.Set("forEach", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("forEach callback must be a function"))
		}
		for _, h := range headers {
			if _, err := fn(goja.Undefined(), vm.ToValue(h.value), vm.ToValue(h.key), obj); err != nil {
				panic(err)
			}
		}
		return goja.Undefined()
	})
	_ = obj.Set("entries", func(goja.FunctionCall) goja.Value {
		entries := make([]interface{}, len(headers))
		for n, h := range headers {
			entries[n] = vm.NewArray(h.key, h.value)
		}
		return vm.NewArray(entries...)
	})

	return obj
}
