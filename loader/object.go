package loader

import (
	"context"

	"github.com/saiset-co/sai-zap/types"
)

// ObjectLoader reads handler source from an object store under the key
// "<name><extension>".
type ObjectLoader struct {
	store     types.ObjectStore
	extension string
}

func NewObjectLoader(store types.ObjectStore, extension string) *ObjectLoader {
	return &ObjectLoader{store: store, extension: extension}
}

func (l *ObjectLoader) Key(name string) string {
	return name + l.extension
}

func (l *ObjectLoader) Load(ctx context.Context, name string) (string, error) {
	data, err := l.store.Get(ctx, l.Key(name))
	if err != nil {
		if types.IsError(err, types.ErrObjectNotFound) ||
			types.IsError(err, types.ErrObjectKeyInvalid) ||
			types.IsError(err, types.ErrObjectKeyEmpty) {
			return "", types.NewNotFound(name, err)
		}
		return "", types.NewStorageFault(name, err)
	}

	return string(data), nil
}
