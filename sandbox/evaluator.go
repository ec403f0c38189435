package sandbox

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultFetchTimeout  = 10 * time.Second
	DefaultMaxFetchBytes = 10 << 20

	maxImportDepth = 32
)

// Evaluator turns handler source into live instances. Every evaluation gets
// its own runtime, so no state leaks between invocations.
type Evaluator struct {
	config *types.SandboxConfig
	loader types.SourceLoader
	logger types.Logger
	kv     types.KeyValueStore
	client *fasthttp.Client
	env    map[string]string
}

type Option func(*Evaluator)

// WithKeyValueStore exposes the store to handlers as the kv global.
func WithKeyValueStore(store types.KeyValueStore) Option {
	return func(e *Evaluator) {
		e.kv = store
	}
}

func WithHTTPClient(client *fasthttp.Client) Option {
	return func(e *Evaluator) {
		e.client = client
	}
}

// WithEnv replaces the environment snapshot taken from the process.
func WithEnv(env map[string]string) Option {
	return func(e *Evaluator) {
		e.env = env
	}
}

func NewEvaluator(config *types.SandboxConfig, loader types.SourceLoader, logger types.Logger, opts ...Option) *Evaluator {
	if config == nil {
		config = &types.SandboxConfig{}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	if config.MaxFetchBytes <= 0 {
		config.MaxFetchBytes = DefaultMaxFetchBytes
	}

	e := &Evaluator{
		config: config,
		loader: loader,
		logger: logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.env == nil {
		e.env = snapshotEnv(config.EnvAllowlist)
	}
	if e.client == nil {
		e.client = &fasthttp.Client{
			Name:                "sai-zap",
			ReadTimeout:         config.FetchTimeout,
			WriteTimeout:        config.FetchTimeout,
			MaxResponseBodySize: config.MaxFetchBytes,
		}
	}

	return e
}

func (e *Evaluator) Timeout() time.Duration {
	return e.config.Timeout
}

// Evaluate runs the module source and captures its default export. The
// instance must be closed once the caller is done with it.
func (e *Evaluator) Evaluate(ctx context.Context, name, source string) (*Instance, error) {
	instCtx, cancel := context.WithCancel(ctx)

	inst := &Instance{
		evaluator: e,
		name:      name,
		vm:        goja.New(),
		loop:      newEventLoop(),
		logger:    e.logger.With(zap.String("handler", name)),
		ctx:       instCtx,
		cancel:    cancel,
		timers:    make(map[int64]*time.Timer),
	}

	if err := inst.install(); err != nil {
		inst.Close()
		return nil, types.NewEvalFault(name, "failed to prepare runtime", err)
	}

	stop := context.AfterFunc(ctx, func() {
		inst.vm.Interrupt(types.ErrHandlerInterrupted)
	})
	defer stop()

	export, err := inst.evalModule(name, source, 1)
	if err != nil {
		inst.Close()
		return nil, types.NewEvalFault(name, errorMessage(err), err)
	}

	inst.export = export

	return inst, nil
}

func snapshotEnv(allowlist []string) map[string]string {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = struct{}{}
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[key]; !ok {
				continue
			}
		}
		env[key] = value
	}

	return env
}
