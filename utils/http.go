package utils

import "github.com/valyala/fasthttp"

func WriteTextResponse(ctx *fasthttp.RequestCtx, status int, body string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("text/plain; charset=utf-8")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		ctx.Response.Header.Set("X-Request-ID", requestID)
	}

	ctx.SetBodyString(body)
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	WriteTextResponse(ctx, fasthttp.StatusInternalServerError, "Internal Server Error")
}
