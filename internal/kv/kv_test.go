package kv

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/rzbill/historykit/internal/storage/pebble"
	"github.com/rzbill/historykit/pkg/kit"
)

type store interface {
	kit.KV
	Keys(ctx context.Context, prefix string) ([]string, error)
}

func exerciseStore(t *testing.T, s store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "ts.a", []byte{1, 2}))
	require.NoError(t, s.Set(ctx, "ts.b", []byte{3}))
	require.NoError(t, s.Set(ctx, "other", []byte{4}))
	v, ok, err := s.Get(ctx, "ts.a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2}, v)

	require.NoError(t, s.Set(ctx, "ts.a", []byte{9}))
	v, _, _ = s.Get(ctx, "ts.a")
	assert.Equal(t, []byte{9}, v)

	keys, err := s.Keys(ctx, "ts.")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ts.a", "ts.b"}, keys)

	require.NoError(t, s.Delete(ctx, "ts.a"))
	require.NoError(t, s.Delete(ctx, "ts.a"))
	_, ok, err = s.Get(ctx, "ts.a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestPebble(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	exerciseStore(t, NewPebble(db))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = NewPebble(db).Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	in := []byte{1}
	require.NoError(t, m.Set(context.Background(), "k", in))
	in[0] = 2
	out, _, _ := m.Get(context.Background(), "k")
	out[0] = 3
	again, _, _ := m.Get(context.Background(), "k")
	assert.Equal(t, []byte{1}, again)
}

// fakeRedis is an in-memory RedisClient.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestRedis(t *testing.T) {
	fake := newFakeRedis()
	exerciseStore(t, NewRedis(fake, "app1:"))
	for k := range fake.data {
		assert.True(t, strings.HasPrefix(k, "app1:"), "unprefixed key %q", k)
	}
	assert.NoError(t, NewRedis(fake, "").Ping(context.Background()))
}

func TestRedisErrorsAreWrapped(t *testing.T) {
	fake := newFakeRedis()
	fake.err = redis.ErrClosed
	r := NewRedis(fake, "")
	_, _, err := r.Get(context.Background(), "k")
	assert.ErrorIs(t, err, redis.ErrClosed)
	assert.ErrorIs(t, r.Set(context.Background(), "k", []byte{1}), redis.ErrClosed)
	assert.Error(t, r.Ping(context.Background()))
}
