package types

import (
	"github.com/valyala/fasthttp"
)

type HTTPServer interface {
	LifecycleManager
	Handler() fasthttp.RequestHandler
	Addr() string
}

// Middleware wraps the catch-all handler of the loopback host. Lower
// weights run first.
type Middleware interface {
	Name() string
	Weight() int
	Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler)
}
