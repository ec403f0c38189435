package middleware

import (
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-zap/types"
)

const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware makes sure every request carries an X-Request-ID and
// echoes it on the response.
type RequestIDMiddleware struct {
	weight int
}

func NewRequestIDMiddleware(item *types.MiddlewareItemConfig) *RequestIDMiddleware {
	return &RequestIDMiddleware{weight: item.Weight}
}

func (m *RequestIDMiddleware) Name() string { return "request_id" }
func (m *RequestIDMiddleware) Weight() int  { return m.weight }

func (m *RequestIDMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler) {
	requestID := string(ctx.Request.Header.Peek(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
		ctx.Request.Header.Set(HeaderRequestID, requestID)
	}

	next(ctx)

	ctx.Response.Header.Set(HeaderRequestID, requestID)
}
