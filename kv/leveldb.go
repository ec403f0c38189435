package kv

import (
	"context"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type LevelDBConfig struct {
	Path      string `json:"path"`
	KeyPrefix string `json:"key_prefix"`
}

type LevelDBStore struct {
	db     *leveldb.DB
	prefix string
}

func NewLevelDBStore(config interface{}) (*LevelDBStore, error) {
	levelConfig := &LevelDBConfig{
		Path:      "./data/kv.ldb",
		KeyPrefix: "kv:",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, levelConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal leveldb kv config")
		}
	}

	db, err := leveldb.OpenFile(levelConfig.Path, nil)
	if err != nil {
		return nil, types.WrapError(err, "failed to open leveldb")
	}

	return &LevelDBStore{db: db, prefix: levelConfig.KeyPrefix}, nil
}

func (l *LevelDBStore) key(key string) []byte {
	return []byte(l.prefix + key)
}

func (l *LevelDBStore) Get(_ context.Context, key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrKVKeyEmpty
	}

	data, err := l.db.Get(l.key(key), nil)
	if err != nil {
		if types.IsError(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, types.Errorf(types.ErrKVOperationFailed, "get %s: %v", key, err)
	}

	value, err := decodeValue(data)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (l *LevelDBStore) Set(_ context.Context, key string, value interface{}) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	if err := l.db.Put(l.key(key), data, nil); err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "set %s: %v", key, err)
	}
	return nil
}

func (l *LevelDBStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	if err := l.db.Delete(l.key(key), nil); err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "del %s: %v", key, err)
	}
	return nil
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}
