package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-zap/types"
)

type Loader struct {
	validator *validator.Validate
	lookupEnv func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
		lookupEnv: os.LookupEnv,
	}
}

// Load reads configPath onto the defaults, applies environment overrides and
// validates the result. An empty path yields defaults plus environment.
func (l *Loader) Load(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, types.WrapError(err, "file not found: "+configPath)
		}

		data, err := l.ReadFileWithTimeout(ctx, configPath)
		if err != nil {
			return nil, types.WrapError(err, "failed to read config file")
		}

		if err := l.Parse(data, config); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Parse(data []byte, config *types.ServiceConfig) error {
	if err := yaml.Unmarshal(data, config); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}
	return nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) applyEnv(config *types.ServiceConfig) error {
	if v, ok := l.lookupEnv("ZAP_STORAGE"); ok && v != "" {
		config.Storage.Type = v
	}

	if v, ok := l.lookupEnv("ZAP_BUCKET"); ok && v != "" {
		config.Storage.Config = mergeBlock(config.Storage.Config, "bucket", v)
		if _, set := l.lookupEnv("ZAP_STORAGE"); !set {
			config.Storage.Type = "s3"
		}
	}

	if v, ok := l.lookupEnv("ZAP_DIR"); ok && v != "" {
		config.Storage.Config = mergeBlock(config.Storage.Config, "root", v)
	}

	if v, ok := l.lookupEnv("ZAP_KV"); ok && v != "" {
		config.KV.Enabled = true
		config.KV.Type = v
	}

	if v, ok := l.lookupEnv("ZAP_LOG_LEVEL"); ok && v != "" {
		config.Logger.Level = v
	}

	if v, ok := l.lookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return types.Errorf(types.ErrConfigParseFailed, "PORT: %v", err)
		}
		config.Server.HTTP.Port = port
	}

	return nil
}

func mergeBlock(block interface{}, key string, value interface{}) interface{} {
	out := make(map[string]interface{})

	switch t := block.(type) {
	case map[string]interface{}:
		for k, v := range t {
			out[k] = v
		}
	case map[interface{}]interface{}:
		for k, v := range t {
			if ks, ok := k.(string); ok {
				out[ks] = v
			}
		}
	}

	out[key] = value
	return out
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-zap",
		Version: "0.1.0",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "127.0.0.1",
				Port:            3000,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 5,
				MaxBodySize:     6 * 1024 * 1024,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Storage: &types.StorageConfig{
			Type:      "fs",
			Extension: ".zap",
			Config: map[string]interface{}{
				"root": ".",
			},
		},
		Loader: &types.LoaderConfig{
			TTL:      5 * time.Second,
			Coalesce: false,
		},
		Sandbox: &types.SandboxConfig{
			Timeout:       30 * time.Second,
			FetchTimeout:  10 * time.Second,
			MaxFetchBytes: 10 * 1024 * 1024,
		},
		KV: &types.KVConfig{
			Enabled: false,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Enabled:         false,
			Timezone:        "UTC",
			RefreshInterval: time.Minute,
			JobTimeout:      5 * time.Minute,
		},
		Metrics: &types.MetricsConfig{
			Enabled:   false,
			Type:      "prometheus",
			Namespace: "sai_zap",
			Path:      "/metrics",
			GoMetrics: true,
		},
		Middlewares: &types.MiddlewaresConfig{
			RequestID: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  5,
			},
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Params: map[string]interface{}{
					"stack_trace": true,
				},
				Weight: 10,
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Params: map[string]interface{}{
					"log_level":   "debug",
					"log_headers": false,
				},
				Weight: 20,
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: false,
				Params: map[string]interface{}{
					"algorithm": "br",
					"level":     6,
					"threshold": 1024,
				},
				Weight: 30,
			},
		},
	}
}
