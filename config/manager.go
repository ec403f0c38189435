package config

import (
	"context"
	"sync"
	"time"

	"github.com/saiset-co/sai-zap/types"
)

type ConfigurationManager struct {
	ctx         context.Context
	configPath  string
	loader      *Loader
	config      *types.ServiceConfig
	parser      *Parser
	mu          sync.RWMutex
	loadTimeout time.Duration
	static      bool
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager serves an already built configuration. It is validated
// but never reloaded.
func NewStaticManager(config *types.ServiceConfig) (*ConfigurationManager, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	loader := NewLoader()
	if err := loader.Validate(config); err != nil {
		return nil, err
	}

	return &ConfigurationManager{
		ctx:    context.Background(),
		loader: loader,
		config: config,
		parser: NewParser(config),
		static: true,
	}, nil
}

func (cm *ConfigurationManager) Load() error {
	if cm.static {
		return nil
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.Load(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration")
	}

	parser := NewParser(config)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config = config
	cm.parser = parser

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.parser == nil {
		return defaultValue
	}
	return cm.parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.parser == nil {
		return types.ErrConfigNotFound
	}
	return cm.parser.GetAs(path, target)
}
