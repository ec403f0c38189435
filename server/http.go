package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-zap/middleware"
	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	HealthPath             = "/healthz"
	defaultShutdownTimeout = 5 * time.Second
)

// Dispatcher turns one normalized request into a serialized result.
type Dispatcher interface {
	HandleRequest(ctx context.Context, req *types.Request) *types.Result
}

var _ types.HTTPServer = (*FastHTTPServer)(nil)

// FastHTTPServer is the loopback request host: every path other than the
// health and metrics endpoints is handed to the Dispatcher.
type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	dispatcher      Dispatcher
	handler         fasthttp.RequestHandler
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	metricsPath     string
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	httpConfig *types.HTTPConfig,
	metricsConfig *types.MetricsConfig,
	dispatcher Dispatcher,
	middlewares []types.Middleware,
	metrics types.MetricsManager,
	logger types.Logger) (*FastHTTPServer, error) {
	if httpConfig == nil {
		return nil, types.Errorf(types.ErrServerStartFailed, "http config is required")
	}
	if dispatcher == nil {
		return nil, types.Errorf(types.ErrServerStartFailed, "dispatcher is required")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		dispatcher:      dispatcher,
		httpConfig:      httpConfig,
		shutdownTimeout: defaultShutdownTimeout,
	}

	if httpConfig.ShutdownTimeout > 0 {
		server.shutdownTimeout = time.Duration(httpConfig.ShutdownTimeout) * time.Second
	}

	if metricsConfig != nil && metricsConfig.Enabled && metrics != nil {
		server.metricsPath = metricsConfig.Path
		if server.metricsPath == "" {
			server.metricsPath = "/metrics"
		}
	}

	server.handler = middleware.Chain(server.mainHandler(), middlewares...)
	server.state.Store(StateStopped)

	return server, nil
}

func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return h.handler
}

// Addr reports the bound address once started, the configured one otherwise.
func (h *FastHTTPServer) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.server = &fasthttp.Server{
		Handler:                      h.handler,
		Name:                         "sai-zap",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		MaxRequestBodySize:           h.httpConfig.MaxBodySize,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	listener, err := net.Listen("tcp", h.Addr())
	if err != nil {
		h.setState(StateStopped)
		return types.WrapError(types.Errorf(types.ErrServerStartFailed, "%v", err), "failed to listen")
	}
	h.listener = listener

	go func() {
		if err := h.server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully", zap.String("address", listener.Addr().String()))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *FastHTTPServer) mainHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		switch {
		case path == HealthPath:
			utils.WriteTextResponse(ctx, fasthttp.StatusOK, "ok")
			return
		case h.metricsPath != "" && path == h.metricsPath:
			h.metrics.Handler()(ctx)
			return
		}

		result := h.dispatcher.HandleRequest(h.ctx, NewRequest(ctx))
		WriteResult(ctx, result)
	}
}
