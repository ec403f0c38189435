package middleware

import (
	"sort"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
)

// Build returns the enabled middlewares described by config.
func Build(config *types.MiddlewaresConfig, logger types.Logger, metrics types.MetricsManager) []types.Middleware {
	if config == nil {
		return nil
	}

	var middlewares []types.Middleware

	if enabled(config.RequestID) {
		middlewares = append(middlewares, NewRequestIDMiddleware(config.RequestID))
	}
	if enabled(config.Recovery) {
		middlewares = append(middlewares, NewRecoveryMiddleware(config.Recovery, logger, metrics))
	}
	if enabled(config.Logging) {
		middlewares = append(middlewares, NewLoggingMiddleware(config.Logging, logger))
	}
	if enabled(config.Compression) {
		middlewares = append(middlewares, NewCompressionMiddleware(config.Compression, logger))
	}

	for _, mw := range middlewares {
		logger.Debug("Middleware registered", zap.String("name", mw.Name()), zap.Int("weight", mw.Weight()))
	}

	return middlewares
}

// Chain wraps handler so that middlewares run in ascending weight order, the
// lightest outermost.
func Chain(handler fasthttp.RequestHandler, middlewares ...types.Middleware) fasthttp.RequestHandler {
	ordered := append([]types.Middleware(nil), middlewares...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight() < ordered[j].Weight()
	})

	for i := len(ordered) - 1; i >= 0; i-- {
		mw := ordered[i]
		next := handler
		handler = func(ctx *fasthttp.RequestCtx) {
			mw.Handle(ctx, next)
		}
	}

	return handler
}

func enabled(item *types.MiddlewareItemConfig) bool {
	return item != nil && item.Enabled
}
