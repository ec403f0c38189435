package storage

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
)

var (
	customStoreCreators   = make(map[string]types.ObjectStoreCreator)
	customStoreCreatorsMu sync.RWMutex
)

func RegisterObjectStore(storeName string, creator types.ObjectStoreCreator) {
	customStoreCreatorsMu.Lock()
	defer customStoreCreatorsMu.Unlock()
	customStoreCreators[storeName] = creator
}

func NewObjectStore(ctx context.Context, config *types.StorageConfig, logger types.Logger) (types.ObjectStore, error) {
	if config == nil {
		return nil, types.ErrStorageConfigInvalid
	}

	var store types.ObjectStore
	var err error

	switch config.Type {
	case "s3":
		store, err = NewS3Store(ctx, config.Config)
	case "fs":
		store, err = NewFSStore(config.Config)
	case "memory":
		store = NewMemoryStore()
	default:
		customStoreCreatorsMu.RLock()
		creator, exists := customStoreCreators[config.Type]
		customStoreCreatorsMu.RUnlock()

		if !exists {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", config.Type)
		}
		store, err = creator(ctx, config.Config)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to create object store")
	}

	logger.Info("Object store initialized", zap.String("type", config.Type))
	return store, nil
}

// validateKey rejects keys that could address objects outside the store.
func validateKey(key string) error {
	if key == "" {
		return types.ErrObjectKeyEmpty
	}

	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return types.Errorf(types.ErrObjectKeyInvalid, "key: %s", key)
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return types.Errorf(types.ErrObjectKeyInvalid, "key: %s", key)
		}
	}

	return nil
}
