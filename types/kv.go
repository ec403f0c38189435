package types

import (
	"context"
)

// KeyValueStore is the shared table handlers persist into. Values are
// decoded JSON documents.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (interface{}, bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type KeyValueStoreCreator func(ctx context.Context, config interface{}) (KeyValueStore, error)
