package middleware

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-zap/logger"
	"github.com/saiset-co/sai-zap/types"
)

type orderMiddleware struct {
	name   string
	weight int
	trace  *[]string
}

func (o *orderMiddleware) Name() string { return o.name }
func (o *orderMiddleware) Weight() int  { return o.weight }

func (o *orderMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler) {
	*o.trace = append(*o.trace, o.name)
	next(ctx)
}

func TestChainOrdersByWeight(t *testing.T) {
	var trace []string

	handler := Chain(func(*fasthttp.RequestCtx) {
		trace = append(trace, "handler")
	},
		&orderMiddleware{name: "heavy", weight: 30, trace: &trace},
		&orderMiddleware{name: "light", weight: 10, trace: &trace},
		&orderMiddleware{name: "middle", weight: 20, trace: &trace},
	)

	handler(&fasthttp.RequestCtx{})

	assert.Equal(t, []string{"light", "middle", "heavy", "handler"}, trace)
}

func TestBuildRespectsEnabled(t *testing.T) {
	config := &types.MiddlewaresConfig{
		RequestID:   &types.MiddlewareItemConfig{Enabled: true, Weight: 5},
		Recovery:    &types.MiddlewareItemConfig{Enabled: true, Weight: 10},
		Logging:     &types.MiddlewareItemConfig{Enabled: false, Weight: 20},
		Compression: &types.MiddlewareItemConfig{Enabled: true, Weight: 30},
	}

	var names []string
	for _, mw := range Build(config, logger.NewNop(), nil) {
		names = append(names, mw.Name())
	}

	assert.Equal(t, []string{"request_id", "recovery", "compression"}, names)
}

func TestRecoveryReturns500(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	mw := NewRecoveryMiddleware(&types.MiddlewareItemConfig{Params: map[string]interface{}{"stack_trace": false}}, logger.NewZapWrapper(zap.New(core)), nil)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/explode")

	mw.Handle(ctx, func(*fasthttp.RequestCtx) { panic("kaboom") })

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "Internal Server Error", string(ctx.Response.Body()))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "kaboom", fields["panic"])
	assert.Equal(t, "/explode", fields["path"])
	assert.NotContains(t, fields, "stack")
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	mw := NewRequestIDMiddleware(&types.MiddlewareItemConfig{})

	ctx := &fasthttp.RequestCtx{}
	var seen string
	mw.Handle(ctx, func(ctx *fasthttp.RequestCtx) {
		seen = string(ctx.Request.Header.Peek(HeaderRequestID))
	})

	assert.Len(t, seen, 36)
	assert.Equal(t, seen, string(ctx.Response.Header.Peek(HeaderRequestID)))

	ctx = &fasthttp.RequestCtx{}
	ctx.Request.Header.Set(HeaderRequestID, "given")
	mw.Handle(ctx, func(*fasthttp.RequestCtx) {})
	assert.Equal(t, "given", string(ctx.Response.Header.Peek(HeaderRequestID)))
}

func TestLoggingLevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mw := NewLoggingMiddleware(&types.MiddlewareItemConfig{Params: map[string]interface{}{
		"log_headers": true,
	}}, logger.NewZapWrapper(zap.New(core)))

	for _, status := range []int{200, 404, 503} {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI("/hello?name=world")
		ctx.Request.Header.Set("Authorization", "secret")

		mw.Handle(ctx, func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(status) })
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "/hello", fields["path"])
	assert.Equal(t, "name=world", fields["query"])
	assert.Equal(t, "[REDACTED]", fields["headers"].(map[string]string)["Authorization"])
}

func TestCompressionBrotli(t *testing.T) {
	mw := NewCompressionMiddleware(&types.MiddlewareItemConfig{Params: map[string]interface{}{
		"algorithm": "br",
		"level":     5,
		"threshold": 16,
	}}, logger.NewNop())

	payload := strings.Repeat(`{"greeting":"hello world"}`, 100)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set(fasthttp.HeaderAcceptEncoding, "gzip, br")

	mw.Handle(ctx, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(payload)
	})

	assert.Equal(t, "br", string(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)))

	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(ctx.Response.Body())))
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestCompressionSkips(t *testing.T) {
	mw := NewCompressionMiddleware(&types.MiddlewareItemConfig{Params: map[string]interface{}{
		"algorithm": "gzip",
		"threshold": 16,
	}}, logger.NewNop())

	payload := strings.Repeat("a", 1000)

	cases := []struct {
		name        string
		accept      string
		contentType string
		body        string
	}{
		{name: "not accepted", accept: "br", contentType: "text/plain", body: payload},
		{name: "binary type", accept: "gzip", contentType: "image/png", body: payload},
		{name: "below threshold", accept: "gzip", contentType: "text/plain", body: "tiny"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := &fasthttp.RequestCtx{}
			ctx.Request.Header.Set(fasthttp.HeaderAcceptEncoding, tc.accept)

			mw.Handle(ctx, func(ctx *fasthttp.RequestCtx) {
				ctx.SetContentType(tc.contentType)
				ctx.SetBodyString(tc.body)
			})

			assert.Empty(t, ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding))
			assert.Equal(t, tc.body, string(ctx.Response.Body()))
		})
	}
}

func TestCompressionInvalidConfigFallsBack(t *testing.T) {
	mw := NewCompressionMiddleware(&types.MiddlewareItemConfig{Params: map[string]interface{}{
		"algorithm": "lzma",
	}}, logger.NewNop())

	assert.Equal(t, AlgorithmBrotli, mw.compressionConfig.Algorithm)
}
