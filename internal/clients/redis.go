package clients

import (
	"context"
	"errors"
	"time"

	"renttrack/pkg/cache/redis"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	// ErrLockNotObtained is returned by Obtain when another holder owns the key.
	ErrLockNotObtained = errors.New("lock not obtained")
)

type RedisConfig struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration

	Prefix string
}

type RedisClient struct {
	raw    *redis.Client
	locker *redislock.Client
	prefix string
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	rdb, err := redis.NewRedisConnection(ctx, redis.ConnectionInfo{
		URL:         cfg.URL,
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return WrapRedis(rdb, cfg.Prefix), nil
}

// WrapRedis builds a client around an existing connection.
func WrapRedis(rdb *goredis.Client, prefix string) *RedisClient {
	if prefix == "" {
		prefix = "renttrack"
	}
	if prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &RedisClient{
		raw:    rdb,
		locker: redislock.New(rdb),
		prefix: prefix,
	}
}

func (c *RedisClient) Close() error {
	if c.raw == nil {
		return nil
	}
	return redis.Close(c.raw)
}

func (c *RedisClient) withPrefix(key string) string {
	return c.prefix + key
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.raw.Set(ctx, c.withPrefix(key), value, ttl).Err()
}

// Get returns ErrCacheMiss when the key does not exist.
func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.raw.Get(ctx, c.withPrefix(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, c.withPrefix(k))
	}
	return c.raw.Del(ctx, prefixed...).Err()
}

func (c *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return c.raw.Incr(ctx, c.withPrefix(key)).Result()
}

// SetIfUnchanged writes key only while guard still holds version, an empty
// version standing for an absent guard. A concurrent change of guard aborts
// the write. It reports whether the value was stored.
func (c *RedisClient) SetIfUnchanged(ctx context.Context, key string, value any, ttl time.Duration, guard, version string) (bool, error) {
	guardKey := c.withPrefix(guard)
	stored := false

	err := c.raw.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, guardKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if current != version {
			return nil
		}

		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, c.withPrefix(key), value, ttl)
			return nil
		}); err != nil {
			return err
		}
		stored = true
		return nil
	}, guardKey)

	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	return stored, err
}

func (c *RedisClient) SAdd(ctx context.Context, key string, members ...any) error {
	return c.raw.SAdd(ctx, c.withPrefix(key), members...).Err()
}

func (c *RedisClient) SRem(ctx context.Context, key string, members ...any) error {
	return c.raw.SRem(ctx, c.withPrefix(key), members...).Err()
}

func (c *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.raw.SMembers(ctx, c.withPrefix(key)).Result()
}

// Obtain takes a non-blocking lock on key. The returned func releases it.
func (c *RedisClient) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := c.locker.Obtain(ctx, c.withPrefix("lock:"+key), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
