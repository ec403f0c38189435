package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type FSConfig struct {
	Root string `json:"root"`
}

// FSStore keeps objects as files below Root, keys mapping to slash
// separated relative paths.
type FSStore struct {
	root string
}

func NewFSStore(config interface{}) (*FSStore, error) {
	fsConfig := &FSConfig{Root: "."}

	if config != nil {
		if err := utils.UnmarshalConfig(config, fsConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal fs storage config")
		}
	}

	root, err := filepath.Abs(fsConfig.Root)
	if err != nil {
		return nil, types.WrapError(err, "failed to resolve storage root")
	}

	return &FSStore{root: root}, nil
}

func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.Errorf(types.ErrObjectNotFound, "key: %s", key)
		}
		return nil, types.WrapError(err, "failed to read object")
	}

	return data, nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapError(err, "failed to create object directory")
	}

	return types.WrapError(os.WriteFile(path, data, 0o644), "failed to write object")
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return types.WrapError(err, "failed to delete object")
	}

	return nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to list objects")
	}

	sort.Strings(keys)
	return keys, nil
}
