package types

import (
	"context"
)

// ObjectStore holds raw handler objects by key. Get reports a missing key
// with an error wrapping ErrObjectNotFound.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type ObjectStoreCreator func(ctx context.Context, config interface{}) (ObjectStore, error)

// SourceLoader resolves a logical handler name to its source text.
type SourceLoader interface {
	Load(ctx context.Context, name string) (string, error)
}

type SourceLoaderFunc func(ctx context.Context, name string) (string, error)

func (f SourceLoaderFunc) Load(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}
