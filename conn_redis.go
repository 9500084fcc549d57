package cachefn

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the connection.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisConnection struct {
	client RedisClient
	prefix string
	closer func() error
}

func newRedisConnection(cfg ConnectionConfig) (Connection, error) {
	if cfg.RedisClient != nil {
		return &redisConnection{client: cfg.RedisClient, prefix: cfg.Prefix}, nil
	}
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	return &redisConnection{client: client, prefix: cfg.Prefix, closer: client.Close}, nil
}

func redisOptions(cfg ConnectionConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		addr := cfg.Addr
		if addr == "" {
			host, port := cfg.Host, cfg.Port
			if host == "" {
				host = "127.0.0.1"
			}
			if port == 0 {
				port = 6379
			}
			addr = net.JoinHostPort(host, strconv.Itoa(port))
		}
		opts = &redis.Options{
			Addr:     addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return opts, nil
}

func (c *redisConnection) Driver() Driver {
	return DriverRedis
}

func (c *redisConnection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.client == nil {
		return nil, false, errors.New("redis cache client unavailable")
	}
	value, err := c.client.Get(ctx, c.cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (c *redisConnection) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	if c.client == nil {
		return errors.New("redis cache client unavailable")
	}
	return c.client.Set(ctx, c.cacheKey(key), value, ttl).Err()
}

func (c *redisConnection) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return errors.New("redis cache client unavailable")
	}
	return c.client.Del(ctx, c.cacheKey(key)).Err()
}

func (c *redisConnection) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *redisConnection) cacheKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}
