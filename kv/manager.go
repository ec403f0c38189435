package kv

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

var (
	customStoreCreators   = make(map[string]types.KeyValueStoreCreator)
	customStoreCreatorsMu sync.RWMutex
)

func RegisterKeyValueStore(storeName string, creator types.KeyValueStoreCreator) {
	customStoreCreatorsMu.Lock()
	defer customStoreCreatorsMu.Unlock()
	customStoreCreators[storeName] = creator
}

// NewStore opens the configured key-value backend. A disabled config yields
// ErrKVIsDisabled.
func NewStore(ctx context.Context, config *types.KVConfig, logger types.Logger) (types.KeyValueStore, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrKVIsDisabled
	}

	var store types.KeyValueStore
	var err error

	switch config.Type {
	case "memory":
		store = NewMemoryStore()
	case "redis":
		store, err = NewRedisStore(ctx, config.Config)
	case "clover":
		store, err = NewCloverStore(config.Config)
	case "leveldb":
		store, err = NewLevelDBStore(config.Config)
	default:
		customStoreCreatorsMu.RLock()
		creator, exists := customStoreCreators[config.Type]
		customStoreCreatorsMu.RUnlock()

		if !exists {
			return nil, types.Errorf(types.ErrKVTypeUnknown, "type: %s", config.Type)
		}
		store, err = creator(ctx, config.Config)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to open kv store")
	}

	logger.Info("Key-value store initialized", zap.String("type", config.Type))
	return store, nil
}

func encodeValue(value interface{}) ([]byte, error) {
	data, err := utils.Marshal(value)
	if err != nil {
		return nil, types.Errorf(types.ErrKVValueNotEncodable, "%v", err)
	}
	return data, nil
}

func decodeValue(data []byte) (interface{}, error) {
	var value interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &value); err != nil {
		return nil, types.Errorf(types.ErrKVOperationFailed, "decode: %v", err)
	}
	return value, nil
}
