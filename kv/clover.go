package kv

import (
	"context"
	"sync"

	"github.com/ostafen/clover"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

type CloverConfig struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// CloverStore keeps one document {k, v} per key, v holding the JSON encoded
// value.
type CloverStore struct {
	db         *clover.DB
	collection string
	mu         sync.Mutex
}

func NewCloverStore(config interface{}) (*CloverStore, error) {
	cloverConfig := &CloverConfig{
		Path:       "./data/kv",
		Collection: "kv",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover kv config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open CloverDB")
	}

	exists, err := db.HasCollection(cloverConfig.Collection)
	if err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to check collection")
	}

	if !exists {
		if err := db.CreateCollection(cloverConfig.Collection); err != nil {
			_ = db.Close()
			return nil, types.WrapError(err, "failed to create collection")
		}
	}

	return &CloverStore{db: db, collection: cloverConfig.Collection}, nil
}

func (c *CloverStore) query(key string) *clover.Query {
	return c.db.Query(c.collection).Where(clover.Field("k").Eq(key))
}

func (c *CloverStore) Get(_ context.Context, key string) (interface{}, bool, error) {
	if key == "" {
		return nil, false, types.ErrKVKeyEmpty
	}

	docs, err := c.query(key).FindAll()
	if err != nil {
		return nil, false, types.Errorf(types.ErrKVOperationFailed, "get %s: %v", key, err)
	}

	if len(docs) == 0 {
		return nil, false, nil
	}

	encoded, _ := docs[0].Get("v").(string)
	value, err := decodeValue([]byte(encoded))
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *CloverStore) Set(_ context.Context, key string, value interface{}) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	data, err := encodeValue(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	query := c.query(key)

	count, err := query.Count()
	if err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "set %s: %v", key, err)
	}

	if count > 0 {
		err = query.Update(map[string]interface{}{"v": string(data)})
	} else {
		doc := clover.NewDocument()
		doc.Set("k", key)
		doc.Set("v", string(data))
		err = c.db.Insert(c.collection, doc)
	}

	if err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "set %s: %v", key, err)
	}
	return nil
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return types.ErrKVKeyEmpty
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.query(key).Delete(); err != nil {
		return types.Errorf(types.ErrKVOperationFailed, "del %s: %v", key, err)
	}
	return nil
}

func (c *CloverStore) Close() error {
	return c.db.Close()
}
