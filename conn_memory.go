package cachefn

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryConnection struct {
	cache *gocache.Cache
}

func newMemoryConnection(cleanupInterval time.Duration) Connection {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanupInterval
	}
	return &memoryConnection{cache: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (c *memoryConnection) Driver() Driver {
	return DriverMemory
}

func (c *memoryConnection) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(body), true, nil
}

func (c *memoryConnection) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	c.cache.Set(key, cloneBytes(value), ttl)
	return nil
}

func (c *memoryConnection) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

func (c *memoryConnection) Close() error {
	c.cache.Flush()
	return nil
}
