package sandbox

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"
)

type queryPair struct {
	key   string
	value string
}

type searchParams struct {
	pairs []queryPair
}

func parseSearchParams(raw string) *searchParams {
	raw = strings.TrimPrefix(raw, "?")

	params := &searchParams{}
	if raw == "" {
		return params
	}

	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params.pairs = append(params.pairs, queryPair{key: key, value: value})
	}

	return params
}

func (p *searchParams) get(key string) (string, bool) {
	for _, pair := range p.pairs {
		if pair.key == key {
			return pair.value, true
		}
	}
	return "", false
}

func (p *searchParams) set(key, value string) {
	out := p.pairs[:0]
	replaced := false
	for _, pair := range p.pairs {
		if pair.key != key {
			out = append(out, pair)
			continue
		}
		if !replaced {
			out = append(out, queryPair{key: key, value: value})
			replaced = true
		}
	}
	if !replaced {
		out = append(out, queryPair{key: key, value: value})
	}
	p.pairs = out
}

func (p *searchParams) remove(key string) {
	out := p.pairs[:0]
	for _, pair := range p.pairs {
		if pair.key != key {
			out = append(out, pair)
		}
	}
	p.pairs = out
}

func (p *searchParams) String() string {
	parts := make([]string, len(p.pairs))
	for n, pair := range p.pairs {
		parts[n] = url.QueryEscape(pair.key) + "=" + url.QueryEscape(pair.value)
	}
	return strings.Join(parts, "&")
}

func (i *Instance) installURL() error {
	if err := i.vm.Set("URLSearchParams", i.newSearchParamsCtor()); err != nil {
		return err
	}

	if err := i.vm.Set("URL", func(call goja.ConstructorCall) *goja.Object {
		input := call.Argument(0).String()

		var (
			parsed *url.URL
			err    error
		)

		if base := call.Argument(1); !goja.IsUndefined(base) && !goja.IsNull(base) {
			var baseURL *url.URL
			if baseURL, err = url.Parse(base.String()); err != nil || baseURL.Scheme == "" {
				panic(i.vm.NewTypeError("Invalid base URL: " + base.String()))
			}
			parsed, err = baseURL.Parse(input)
		} else {
			parsed, err = url.Parse(input)
		}

		if err != nil || parsed.Scheme == "" {
			panic(i.vm.NewTypeError("Invalid URL: " + input))
		}

		i.bindURL(call.This, parsed)

		return nil
	}); err != nil {
		return err
	}

	_, err := i.vm.RunString(`URLSearchParams.prototype[Symbol.iterator] = function () { return this.entries()[Symbol.iterator](); };`)
	return err
}

func (i *Instance) bindURL(obj *goja.Object, u *url.URL) {
	if u.Path == "" && (u.Scheme == "http" || u.Scheme == "https") {
		u.Path = "/"
	}

	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.EscapedFragment()
	}

	password, _ := u.User.Password()
	href := u.String()

	props := map[string]interface{}{
		"href":     href,
		"protocol": u.Scheme + ":",
		"host":     u.Host,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"pathname": u.EscapedPath(),
		"search":   search,
		"hash":     hash,
		"origin":   u.Scheme + "://" + u.Host,
		"username": u.User.Username(),
		"password": password,
	}

	for key, value := range props {
		_ = obj.Set(key, value)
	}

	params, _ := i.vm.New(i.vm.Get("URLSearchParams"), i.vm.ToValue(u.RawQuery))
	_ = obj.Set("searchParams", params)

	toString := func(goja.FunctionCall) goja.Value { return i.vm.ToValue(href) }
	_ = obj.Set("toString", toString)
	_ = obj.Set("toJSON", toString)
}

func (i *Instance) newSearchParamsCtor() func(goja.ConstructorCall) *goja.Object {
	return func(call goja.ConstructorCall) *goja.Object {
		params := &searchParams{}

		switch init := call.Argument(0).(type) {
		case *goja.Object:
			if _, isArray := init.Export().([]interface{}); isArray {
				var entries [][]string
				if err := i.vm.ExportTo(init, &entries); err != nil {
					panic(i.vm.NewTypeError("URLSearchParams: invalid entries"))
				}
				for _, entry := range entries {
					if len(entry) != 2 {
						panic(i.vm.NewTypeError("URLSearchParams: each entry must be a pair"))
					}
					params.pairs = append(params.pairs, queryPair{key: entry[0], value: entry[1]})
				}
				break
			}
			if toString := init.Get("toString"); init.Get("append") != nil && toString != nil {
				if fn, ok := goja.AssertFunction(toString); ok {
					if s, err := fn(init); err == nil {
						params = parseSearchParams(s.String())
						break
					}
				}
			}
			for _, key := range init.Keys() {
				params.pairs = append(params.pairs, queryPair{key: key, value: init.Get(key).String()})
			}
		default:
			if !goja.IsUndefined(init) && !goja.IsNull(init) {
				params = parseSearchParams(init.String())
			}
		}

		i.bindSearchParams(call.This, params)

		return nil
	}
}

func (i *Instance) bindSearchParams(obj *goja.Object, params *searchParams) {
	vm := i.vm

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"get": func(call goja.FunctionCall) goja.Value {
			if value, ok := params.get(call.Argument(0).String()); ok {
				return vm.ToValue(value)
			}
			return goja.Null()
		},
		"getAll": func(call goja.FunctionCall) goja.Value {
			key := call.Argument(0).String()
			values := make([]interface{}, 0)
			for _, pair := range params.pairs {
				if pair.key == key {
					values = append(values, pair.value)
				}
			}
			return vm.NewArray(values...)
		},
		"has": func(call goja.FunctionCall) goja.Value {
			_, ok := params.get(call.Argument(0).String())
			return vm.ToValue(ok)
		},
		"set": func(call goja.FunctionCall) goja.Value {
			params.set(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		},
		"append": func(call goja.FunctionCall) goja.Value {
			params.pairs = append(params.pairs, queryPair{key: call.Argument(0).String(), value: call.Argument(1).String()})
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			params.remove(call.Argument(0).String())
			return goja.Undefined()
		},
		"toString": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(params.String())
		},
		"entries": func(goja.FunctionCall) goja.Value {
			entries := make([]interface{}, len(params.pairs))
			for n, pair := range params.pairs {
				entries[n] = vm.NewArray(pair.key, pair.value)
			}
			return vm.NewArray(entries...)
		},
		"keys": func(goja.FunctionCall) goja.Value {
			keys := make([]interface{}, len(params.pairs))
			for n, pair := range params.pairs {
				keys[n] = pair.key
			}
			return vm.NewArray(keys...)
		},
		"values": func(goja.FunctionCall) goja.Value {
			values := make([]interface{}, len(params.pairs))
			for n, pair := range params.pairs {
				values[n] = pair.value
			}
			return vm.NewArray(values...)
		},
		"forEach": func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("forEach callback must be a function"))
			}
			for _, pair := range append([]queryPair(nil), params.pairs...) {
				if _, err := fn(goja.Undefined(), vm.ToValue(pair.value), vm.ToValue(pair.key), obj); err != nil {
					panic(err)
				}
			}
			return goja.Undefined()
		},
	}

	for name, method := range methods {
		_ = obj.Set(name, method)
	}

	_ = obj.DefineAccessorProperty("size", vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(len(params.pairs))
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}
