package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-zap/storage"
	"github.com/saiset-co/sai-zap/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingLoader struct {
	calls int32
	load  func(name string) (string, error)
}

func (l *countingLoader) Load(_ context.Context, name string) (string, error) {
	atomic.AddInt32(&l.calls, 1)
	return l.load(name)
}

func (l *countingLoader) Calls() int {
	return int(atomic.LoadInt32(&l.calls))
}

func TestCacheTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	src := &countingLoader{load: func(name string) (string, error) { return "src:" + name, nil }}
	cache := NewSourceCache(src, 5*time.Second, WithClock(clock.Now))
	ctx := context.Background()

	first, err := cache.Load(ctx, "hello")
	require.NoError(t, err)
	clock.Advance(4999 * time.Millisecond)
	second, err := cache.Load(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, "src:hello", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.Calls())

	clock.Advance(time.Millisecond)
	_, err = cache.Load(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, src.Calls())

	_, err = cache.Load(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, 2, cache.Len())
}

func TestCacheDoesNotKeepFailures(t *testing.T) {
	fail := true
	src := &countingLoader{load: func(name string) (string, error) {
		if fail {
			return "", types.NewStorageFault(name, errors.New("timeout"))
		}
		return "ok", nil
	}}
	cache := NewSourceCache(src, time.Minute)

	_, err := cache.Load(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, types.FaultStorage, types.KindOf(err))

	fail = false
	source, err := cache.Load(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", source)
	assert.Equal(t, 2, src.Calls())
}

func TestCacheInvalidate(t *testing.T) {
	src := &countingLoader{load: func(string) (string, error) { return "v", nil }}
	cache := NewSourceCache(src, time.Minute)

	_, _ = cache.Load(context.Background(), "x")
	cache.Invalidate("x")
	_, _ = cache.Load(context.Background(), "x")

	assert.Equal(t, 2, src.Calls())
}

// barrierLoader blocks each call until n calls are in flight.
func barrierLoader(n int) *countingLoader {
	var wg sync.WaitGroup
	wg.Add(n)
	return &countingLoader{load: func(name string) (string, error) {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
		return "src:" + name, nil
	}}
}

func loadConcurrently(t *testing.T, cache *SourceCache, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			source, err := cache.Load(context.Background(), "dup")
			assert.NoError(t, err)
			assert.Equal(t, "src:dup", source)
		}()
	}
	wg.Wait()
}

func TestConcurrentMissesFetchIndependently(t *testing.T) {
	src := barrierLoader(2)
	cache := NewSourceCache(src, time.Minute)

	loadConcurrently(t, cache, 2)

	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, 1, cache.Len())
}

func TestCoalescedMissesFetchOnce(t *testing.T) {
	release := make(chan struct{})
	src := &countingLoader{load: func(name string) (string, error) {
		<-release
		return "src:" + name, nil
	}}
	cache := NewSourceCache(src, time.Minute, WithCoalescing())

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	loadConcurrently(t, cache, 5)

	assert.Equal(t, 1, src.Calls())
}

func TestObjectLoader(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "utils/auth.zap", []byte("export default 1")))
	l := NewObjectLoader(store, ".zap")

	source, err := l.Load(context.Background(), "utils/auth")
	require.NoError(t, err)
	assert.Equal(t, "export default 1", source)

	_, err = l.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.FaultNotFound, types.KindOf(err))

	_, err = l.Load(context.Background(), "../etc/passwd")
	assert.Equal(t, types.FaultNotFound, types.KindOf(err))
}

type brokenStore struct{ types.ObjectStore }

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestObjectLoaderStorageFault(t *testing.T) {
	_, err := NewObjectLoader(brokenStore{}, ".zap").Load(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, types.FaultStorage, types.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}
