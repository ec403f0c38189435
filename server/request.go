package server

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-zap/types"
)

// NewRequest normalizes a fasthttp request. Header names are lower-cased,
// repeated headers are joined with commas and the last repeated query key wins.
func NewRequest(ctx *fasthttp.RequestCtx) *types.Request {
	req := &types.Request{
		Method:  string(ctx.Method()),
		Path:    string(ctx.Path()),
		Query:   make(map[string]string),
		Headers: make(map[string]string),
	}

	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		req.Query[string(key)] = string(value)
	})

	ctx.Request.Header.VisitAll(func(key, value []byte) {
		name := strings.ToLower(string(key))
		if existing, ok := req.Headers[name]; ok {
			req.Headers[name] = existing + "," + string(value)
			return
		}
		req.Headers[name] = string(value)
	})

	if body := ctx.PostBody(); len(body) > 0 {
		text := string(body)
		req.Body = &text
	}

	return req
}

func WriteResult(ctx *fasthttp.RequestCtx, result *types.Result) {
	if result == nil {
		result = &types.Result{}
	}

	status := result.Status
	if status == 0 {
		status = fasthttp.StatusOK
	}

	ctx.SetStatusCode(status)

	hasContentType := false
	for key, value := range result.Headers {
		if strings.EqualFold(key, fasthttp.HeaderContentType) {
			hasContentType = true
		}
		ctx.Response.Header.Set(key, value)
	}

	if !hasContentType {
		ctx.Response.Header.SetContentType("text/plain; charset=utf-8")
	}

	ctx.SetBodyString(result.Body)
}
