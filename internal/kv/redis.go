package kv

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of redis.UniversalClient the store uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewRedisClient dials a single-node client.
func NewRedisClient(o RedisOptions) *redis.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

// Redis stores values as Redis strings under an optional key prefix.
// Values never expire.
type Redis struct {
	client RedisClient
	prefix string
}

// NewRedis returns a store over client. prefix namespaces every key.
func NewRedis(client RedisClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "kv: redis get %q", key)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return errors.Wrapf(r.client.Set(ctx, r.prefix+key, value, 0).Err(), "kv: redis set %q", key)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.client.Del(ctx, r.prefix+key).Err(), "kv: redis del %q", key)
}

// Keys lists keys starting with prefix, without the store prefix.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+prefix+"*", 100).Result()
		if err != nil {
			return nil, errors.Wrap(err, "kv: redis scan")
		}
		for _, k := range keys {
			out = append(out, k[len(r.prefix):])
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return errors.Wrap(r.client.Ping(ctx).Err(), "kv: redis ping")
}
