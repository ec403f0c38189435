package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

type RedisStore struct {
	config *RedisConfig
	client *redis.Client
}

func NewRedisStore(ctx context.Context, config interface{}) (*RedisStore, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "sai-zap",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, redisConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis kv config")
		}
	}

	store := &RedisStore{
		config: redisConfig,
		client: redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
			Password:     redisConfig.Password,
			DB:           redisConfig.DB,
			PoolSize:     redisConfig.PoolSize,
			MinIdleConns: redisConfig.MinIdleConnections,
			DialTimeout:  redisConfig.DialTimeout,
			ReadTimeout:  redisConfig.ReadTimeout,
			WriteTimeout: redisConfig.WriteTimeout,
		}),
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()

	if err := store.client.Ping(pingCtx).Err(); err != nil {
		_ = store.client.Close()
		return nil, types.Errorf(types.ErrKVConnectionFailed, "%v", err)
	}

	return store, nil
}

func (r *RedisStore) buildFullKey(key string) string {
	if r.config.KeyPrefix == "" {
		return key
	}
	return r.config.KeyPrefix + ":" + key
}

func (r *RedisStore) Get(ctx context.Context, key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrKVKeyEmpty
	}

	result, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.Errorf(types.ErrKVOperationFailed, "get %s: %v", key, err)
	}

	value, err := decodeValue(result)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), data, 0).Err(); err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "set %s: %v", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	if err := r.client.Del(ctx, r.buildFullKey(key)).Err(); err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "del %s: %v", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
