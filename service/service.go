package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-zap/cron"
	"github.com/saiset-co/sai-zap/dispatcher"
	"github.com/saiset-co/sai-zap/kv"
	"github.com/saiset-co/sai-zap/loader"
	"github.com/saiset-co/sai-zap/logger"
	"github.com/saiset-co/sai-zap/metrics"
	"github.com/saiset-co/sai-zap/middleware"
	"github.com/saiset-co/sai-zap/sandbox"
	"github.com/saiset-co/sai-zap/server"
	"github.com/saiset-co/sai-zap/storage"
	"github.com/saiset-co/sai-zap/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Host wires the invocation core and, when run, the loopback server and the
// local cron scheduler.
type Host struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	store           types.ObjectStore
	sources         *loader.SourceCache
	kv              types.KeyValueStore
	evaluator       *sandbox.Evaluator
	dispatcher      *dispatcher.Dispatcher
	server          *server.FastHTTPServer
	scheduler       *cron.Scheduler
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
}

func NewHost(ctx context.Context, configManager types.ConfigManager) (*Host, error) {
	if configManager == nil {
		return nil, types.ErrConfigIsNil
	}

	hostCtx, cancel := context.WithCancel(ctx)

	host := &Host{
		ctx:             hostCtx,
		cancel:          cancel,
		config:          configManager,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	host.state.Store(StateStopped)

	if err := host.registerComponents(); err != nil {
		cancel()
		host.closeStores()
		return nil, types.WrapError(err, "failed to register components")
	}

	return host, nil
}

func (h *Host) registerComponents() error {
	_config := h.config.GetConfig()

	var err error

	h.logger, err = logger.New(_config.Logger)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}

	h.metrics, err = metrics.NewManager(_config.Metrics, h.logger)
	if err != nil {
		return types.WrapError(err, "failed to register metrics manager")
	}

	h.store, err = storage.NewObjectStore(h.ctx, _config.Storage, h.logger)
	if err != nil {
		return types.WrapError(err, "failed to register object store")
	}

	opts := []loader.Option{loader.WithLogger(h.logger), loader.WithMetrics(h.metrics)}
	if _config.Loader.Coalesce {
		opts = append(opts, loader.WithCoalescing())
	}
	h.sources = loader.NewSourceCache(loader.NewObjectLoader(h.store, _config.Storage.Extension), _config.Loader.TTL, opts...)

	var sandboxOpts []sandbox.Option
	if _config.KV.Enabled {
		h.kv, err = kv.NewStore(h.ctx, _config.KV, h.logger)
		if err != nil {
			return types.WrapError(err, "failed to register kv store")
		}
		sandboxOpts = append(sandboxOpts, sandbox.WithKeyValueStore(h.kv))
	}

	var sandboxConfig types.SandboxConfig
	if err = h.config.GetAs("sandbox", &sandboxConfig); err != nil {
		return types.WrapError(err, "failed to decode sandbox config")
	}

	h.evaluator = sandbox.NewEvaluator(&sandboxConfig, h.sources, h.logger, sandboxOpts...)
	h.dispatcher = dispatcher.New(h.sources, h.evaluator, h.logger, h.metrics)

	h.server, err = server.NewHTTPServer(
		h.ctx,
		_config.Server.HTTP,
		_config.Metrics,
		h.dispatcher,
		middleware.Build(_config.Middlewares, h.logger, h.metrics),
		h.metrics,
		h.logger,
	)
	if err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}

	var cronConfig types.CronConfig
	if err = h.config.GetAs("cron", &cronConfig); err != nil {
		return types.WrapError(err, "failed to decode cron config")
	}

	if cronConfig.Enabled {
		cronManager, err := cron.NewManager(h.ctx, &cronConfig, h.logger, h.metrics)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}
		h.scheduler = cron.NewScheduler(cronManager, h.store, _config.Storage.Extension, h.dispatcher, h.logger, cronConfig.RefreshInterval)
	}

	return nil
}

func (h *Host) Config() types.ConfigManager        { return h.config }
func (h *Host) Logger() types.Logger               { return h.logger }
func (h *Host) Metrics() types.MetricsManager      { return h.metrics }
func (h *Host) Store() types.ObjectStore           { return h.store }
func (h *Host) Dispatcher() *dispatcher.Dispatcher { return h.dispatcher }
func (h *Host) Server() *server.FastHTTPServer     { return h.server }
func (h *Host) Scheduler() *cron.Scheduler         { return h.scheduler }

// Run starts the long-lived components and blocks until the host is stopped
// or receives SIGINT, SIGTERM or SIGQUIT.
func (h *Host) Run() error {
	if !h.transitionState(StateStopped, StateStarting) {
		h.logger.Warn("Host is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("host panic: %v", r)
				h.logger.Error("Host run panic", zap.Stack(string(buf[:n])))
				h.setState(StateStopped)
			}
		}()

		runErr = h.run()
	}()

	return runErr
}

func (h *Host) run() error {
	h.logger.Info("Starting host",
		zap.Any("name", h.config.GetValue("name", "sai-zap")),
		zap.Any("version", h.config.GetValue("version", "")),
	)

	ctx, cancel := context.WithTimeout(h.ctx, h.startTimeout)
	defer cancel()

	if err := h.startComponents(ctx); err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	h.setState(StateRunning)
	h.setupSignalHandling()

	h.wg.Add(1)
	go h.contextMonitor()

	h.logger.Info("Host started successfully", zap.String("address", h.server.Addr()))

	<-h.done

	if err := h.stopComponents(); err != nil {
		h.logger.Error("Error during host shutdown", zap.Error(err))
	}

	h.wg.Wait()
	h.closeStores()
	h.setState(StateStopped)

	h.logger.Info("Host stopped gracefully")
	return nil
}

func (h *Host) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		h.logger.Warn("Host is not running")
		return types.ErrServiceIsNotRunning
	}

	h.logger.Info("Stopping host...")
	h.cancel()

	return nil
}

// Close releases the stores of a host that was never run.
func (h *Host) Close() error {
	h.cancel()
	return h.closeStores()
}

func (h *Host) Done() <-chan struct{} {
	return h.done
}

func (h *Host) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *Host) getState() State {
	return h.state.Load().(State)
}

func (h *Host) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *Host) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *Host) startComponents(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := h.metrics.Start(); err != nil {
			h.logger.Error("Failed to start metrics manager", zap.Error(err))
		}
	}

	if err := h.server.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	if h.scheduler != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := h.scheduler.Start(); err != nil {
				h.logger.Error("Failed to start cron scheduler", zap.Error(err))
			}
		}
	}

	h.logger.Info("All components started successfully")
	return nil
}

func (h *Host) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	h.logger.Info("Stopping host components...")

	g, gCtx := errgroup.WithContext(ctx)

	if h.scheduler != nil && h.scheduler.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := h.scheduler.Stop(); err != nil {
					h.logger.Error("Failed to stop cron scheduler", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if h.server.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := h.server.Stop(); err != nil {
					h.logger.Error("Failed to stop HTTP server", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
		}
		return err
	}

	if h.metrics.IsRunning() {
		if err := h.metrics.Stop(); err != nil {
			h.logger.Error("Failed to stop metrics manager", zap.Error(err))
		}
	}

	h.logger.Info("All components stopped successfully")
	return nil
}

func (h *Host) closeStores() error {
	if h.kv == nil {
		return nil
	}

	err := h.kv.Close()
	h.kv = nil
	if err != nil && h.logger != nil {
		h.logger.Error("Failed to close kv store", zap.Error(err))
	}

	return err
}

func (h *Host) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		select {
		case sig := <-sigChan:
			h.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if h.transitionState(StateRunning, StateStopping) {
				h.cancel()
			}

		case <-h.ctx.Done():
			h.logger.Info("Host context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (h *Host) contextMonitor() {
	defer h.wg.Done()
	defer close(h.done)

	<-h.ctx.Done()

	switch err := h.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		h.logger.Info("Host shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		h.logger.Warn("Host shutdown: context deadline exceeded")
	default:
		h.logger.Info("Host shutdown: context done")
	}
}
