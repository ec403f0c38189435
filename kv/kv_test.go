package kv

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-zap/logger"
	"github.com/saiset-co/sai-zap/types"
)

func exerciseStore(t *testing.T, store types.KeyValueStore) {
	ctx := context.Background()
	defer func() { require.NoError(t, store.Close()) }()

	_, found, err := store.Get(ctx, "visits")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "visits", 1))
	value, found, err := store.Get(ctx, "visits")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, float64(1), value)

	require.NoError(t, store.Set(ctx, "visits", map[string]interface{}{"count": 2, "tags": []interface{}{"a"}}))
	value, _, err = store.Get(ctx, "visits")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"count": float64(2), "tags": []interface{}{"a"}}, value)

	require.NoError(t, store.Delete(ctx, "visits"))
	_, found, err = store.Get(ctx, "visits")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete(ctx, "never-set"))
	require.ErrorIs(t, store.Set(ctx, "", 1), types.ErrKVKeyEmpty)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestLevelDBStore(t *testing.T) {
	store, err := NewLevelDBStore(map[string]interface{}{"path": filepath.Join(t.TempDir(), "kv.ldb")})
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestCloverStore(t *testing.T) {
	store, err := NewCloverStore(map[string]interface{}{"path": filepath.Join(t.TempDir(), "clover")})
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	store, err := NewRedisStore(context.Background(), map[string]interface{}{
		"host":       mr.Host(),
		"port":       port,
		"key_prefix": "test",
	})
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), "k", "v"))
	assert.True(t, mr.Exists("test:k"))

	exerciseStore(t, store)
}

func TestNewStore(t *testing.T) {
	log := logger.NewNop()

	_, err := NewStore(context.Background(), &types.KVConfig{Enabled: false}, log)
	require.ErrorIs(t, err, types.ErrKVIsDisabled)

	_, err = NewStore(context.Background(), &types.KVConfig{Enabled: true, Type: "dynamo"}, log)
	require.ErrorIs(t, err, types.ErrKVTypeUnknown)

	store, err := NewStore(context.Background(), &types.KVConfig{Enabled: true, Type: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestUnencodableValue(t *testing.T) {
	err := NewMemoryStore().Set(context.Background(), "nan", math.NaN())
	require.ErrorIs(t, err, types.ErrKVValueNotEncodable)
}
